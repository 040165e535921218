package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/accessd/internal/api"
	"github.com/charlesng35/accessd/internal/app"
	"github.com/charlesng35/accessd/internal/app/maintenance"
	iauth "github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/internal/database"
	"github.com/charlesng35/accessd/internal/middleware"
	"github.com/charlesng35/accessd/internal/notify"
	"github.com/charlesng35/accessd/internal/services"
	"github.com/charlesng35/accessd/internal/store"
	"github.com/charlesng35/accessd/internal/store/memory"
	"github.com/charlesng35/accessd/internal/store/sqlstore"
	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/mail"
	"github.com/charlesng35/accessd/pkg/response"
)

// rateStore is a RateStore the maintenance cleaner can sweep.
type rateStore interface {
	middleware.RateStore
	maintenance.Sweeper
}

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	Store      store.Store
	Dispatcher *notify.Dispatcher
	Accounts   *services.AccountService
	Cleaner    *maintenance.Cleaner
	RateStore  rateStore
	Router     *gin.Engine
}

// bootstrapRuntime initialises the credential store, services, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}
	response.ExposeDetails(cfg.Server.Development)

	var db *gorm.DB
	stack.Store, db, err = initialiseStore(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	resets, err := iauth.NewResetRegistry(stack.Store, cfg.Auth.ResetOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise reset registry: %w", err)
	}

	stack.Dispatcher, err = initialiseDispatcher(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Accounts, err = services.NewAccountService(stack.Store, resets, jwtSvc, stack.Dispatcher,
		services.WithResetBaseURL(cfg.Auth.Reset.BaseURL),
		services.WithPasswordHasher(cfg.Auth.PasswordHasher()),
		services.WithLoginAlerts(cfg.Auth.LoginAlerts),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	stack.RateStore, err = initialiseRateStore(cfg, db)
	if err != nil {
		return nil, err
	}

	stack.Cleaner = maintenance.NewCleaner(resets, stack.RateStore,
		maintenance.WithResetSchedule(cfg.Auth.SweepSchedule()),
		maintenance.WithRateLimitSchedule(cfg.Server.RateLimitSweepSchedule()),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.Accounts, jwtSvc, stack.Store, cfg, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, waits for queued notifications and releases the store.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Dispatcher != nil {
		if err := s.Dispatcher.Wait(ctx); err != nil {
			log.Warn("abandoning in-flight notifications", zap.Error(err))
		}
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}
}

// initialiseStore opens the credential store. The gorm handle is nil for the in-memory driver.
func initialiseStore(cfg *app.Config) (store.Store, *gorm.DB, error) {
	log := logger.WithModule("database")
	if cfg.Database.InMemory() {
		log.Warn("using in-memory credential store; accounts are lost on restart")
		return memory.New(), nil, nil
	}

	dbCfg := cfg.Database.Settings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	st, err := sqlstore.New(db)
	if err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}

	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))
	return st, db, nil
}

func initialiseRateStore(cfg *app.Config, db *gorm.DB) (rateStore, error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.Server.RateLimit.Backend), "database") {
		return middleware.NewMemoryRateStore(), nil
	}
	if db == nil {
		return nil, fmt.Errorf("rate limit backend database requires a sql database driver")
	}
	st, err := middleware.NewDatabaseRateStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise rate store: %w", err)
	}
	return st, nil
}

func initialiseDispatcher(cfg *app.Config, log *zap.Logger) (*notify.Dispatcher, error) {
	renderer, err := notify.NewRenderer(cfg.Notifications.AppName)
	if err != nil {
		return nil, fmt.Errorf("compile notification templates: %w", err)
	}

	opts := []notify.Option{
		notify.WithRenderer(renderer),
		notify.WithTimeout(cfg.Notifications.Timeout),
	}

	if !cfg.Notifications.Enabled {
		log.Info("notifications disabled; deliveries are logged only")
		return notify.NewDispatcher(opts...)
	}

	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		sender, err := notify.NewSMTPEmailSender(mailer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithEmailSender(sender))
	} else {
		log.Info("smtp disabled; email deliveries are logged only")
	}

	if cfg.SMS.Enabled {
		sender, err := notify.NewHTTPSMSSender(cfg.SMS.GatewayConfig(), nil)
		if err != nil {
			return nil, fmt.Errorf("initialise sms gateway: %w", err)
		}
		opts = append(opts, notify.WithSMSSender(sender))
	} else {
		log.Info("sms gateway disabled; sms deliveries are logged only")
	}

	return notify.NewDispatcher(opts...)
}
