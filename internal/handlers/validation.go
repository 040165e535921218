package handlers

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/accessd/pkg/errors"
	"github.com/charlesng35/accessd/pkg/response"
)

// bindJSON decodes the request body into dest and writes a BAD_REQUEST envelope when it
// cannot. Field rules live in the services so every caller sees the same messages.
func bindJSON[T any](c *gin.Context, dest *T) bool {
	err := c.ShouldBindJSON(dest)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF):
		response.Error(c, appErrors.NewBadRequest("request body is required"))
	default:
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
	}
	return false
}
