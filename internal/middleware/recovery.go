package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/accessd/pkg/errors"
	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/response"
)

// Recovery turns a handler panic into INTERNAL_SERVER_ERROR. When the handler already
// started writing, the connection is only aborted.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}

			log.Error("handler panicked",
				zap.String("request_id", c.GetString(CtxRequestIDKey)),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Error(c, errors.ErrInternalServer.WithInternal(fmt.Errorf("panic: %v", r)))
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with NOT_FOUND.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.New(
		errors.ErrNotFound.Code,
		fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path),
		errors.ErrNotFound.StatusCode,
	))
}
