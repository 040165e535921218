package response

import (
	"net/http"
	"sync/atomic"

	appErrors "github.com/charlesng35/accessd/pkg/errors"
	"github.com/gin-gonic/gin"
)

var exposeDetails atomic.Bool

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

// ExposeDetails toggles whether internal error text is included in error payloads.
// Only enable outside production.
func ExposeDetails(enabled bool) {
	exposeDetails.Store(enabled)
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	info := &ErrorInfo{
		Code:    appErr.Code,
		Message: appErr.Message,
		Fields:  appErr.Fields,
	}
	if exposeDetails.Load() && appErr.Internal != nil {
		info.Detail = appErr.Internal.Error()
	}

	c.JSON(status, Response{
		Success: false,
		Error:   info,
	})
}
