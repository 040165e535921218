package database

import (
	"errors"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := mysqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.New(mysql.Config{DSN: dsn}), gormConfig(cfg))
}

// mysqlDSN renders a go-sql-driver DSN. Times are parsed and stored in UTC so token
// expiry comparisons agree with the application clock.
func mysqlDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql: user and database name are required")
	}

	dc := driver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(orDefault(cfg.Host, "127.0.0.1"), strconv.Itoa(portOrDefault(cfg.Port, 3306)))
	dc.DBName = cfg.Name
	dc.ParseTime = true
	dc.Loc = time.UTC

	params := withDefaults(cfg.Options, map[string]string{"charset": "utf8mb4"})
	if len(params) > 0 {
		dc.Params = params
	}

	return dc.FormatDSN(), nil
}
