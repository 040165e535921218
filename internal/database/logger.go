package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charlesng35/accessd/pkg/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

// gormLogger routes gorm diagnostics into the application zap logger. Statement text
// is reduced to its verb so bound values (hashes, emails) stay out of the logs.
type gormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	return &gormLogger{level: gormlogger.Warn, slow: slow}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cpy := *l
	cpy.level = level
	return &cpy
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.WithModule("database").Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.WithModule("database").Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.WithModule("database").Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	statement, rows := fc()
	fields := []zap.Field{
		zap.String("op", statementVerb(statement)),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	log := logger.WithModule("database")

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		log.Warn("query failed", append(fields, zap.Error(err))...)
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		log.Warn("slow query", fields...)
	case l.level >= gormlogger.Info:
		log.Debug("query", fields...)
	}
}

func statementVerb(statement string) string {
	statement = strings.TrimSpace(statement)
	if idx := strings.IndexByte(statement, ' '); idx > 0 {
		return strings.ToUpper(statement[:idx])
	}
	return strings.ToUpper(statement)
}
