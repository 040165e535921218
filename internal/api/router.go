package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/accessd/internal/app"
	iauth "github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/internal/handlers"
	"github.com/charlesng35/accessd/internal/middleware"
	"github.com/charlesng35/accessd/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the account and
// notification routes.
func NewRouter(accounts *services.AccountService, jwt *iauth.JWTService, health handlers.HealthChecker, cfg *app.Config, rateStore middleware.RateStore) (*gin.Engine, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account service must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.HSTS))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))

	// Health endpoint (public)
	r.GET("/health", handlers.Health(health))

	// Credential endpoints are limited per client IP and route.
	limit := func(c *gin.Context) { c.Next() }
	if rl := cfg.Server.RateLimit; rl.Enabled && rateStore != nil {
		limit = middleware.RateLimit(rateStore, rl.Requests, rl.Window)
	}

	requireAuth := middleware.Auth(jwt)
	authHandler := handlers.NewAuthHandler(accounts)

	auth := r.Group("/api/auth")
	{
		auth.POST("/signup", limit, authHandler.Signup)
		auth.POST("/login", limit, authHandler.Login)
		auth.POST("/forgot-password", limit, authHandler.ForgotPassword)
		auth.POST("/reset-password", limit, authHandler.ResetPassword)
		auth.GET("/verify", authHandler.Verify)
		auth.GET("/me", requireAuth, authHandler.Me)
	}

	notificationHandler := handlers.NewNotificationHandler(accounts)
	notifications := r.Group("/api/notifications")
	notifications.Use(requireAuth)
	{
		notifications.POST("/send", notificationHandler.Send)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
