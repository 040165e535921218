package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/response"
)

// HealthChecker is the slice of the store the health endpoint probes.
type HealthChecker interface {
	Ping(ctx context.Context) error
	CountUsers(ctx context.Context) (int64, error)
}

// Health reports liveness and the number of registered users.
func Health(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			response.Success(c, http.StatusOK, gin.H{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := checker.Ping(ctx); err != nil {
			logger.WithModule("health").Warn("store ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Success: false,
				Data:    gin.H{"status": "degraded", "store": "unavailable"},
			})
			return
		}

		users, err := checker.CountUsers(ctx)
		if err != nil {
			logger.WithModule("health").Warn("user count failed", zap.Error(err))
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok", "store": "ok", "users": users})
	}
}
