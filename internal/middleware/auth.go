package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/pkg/errors"
	"github.com/charlesng35/accessd/pkg/response"
)

const (
	CtxIdentityKey = "authIdentity"
	CtxUserIDKey   = "userID"
)

// TokenVerifier decodes bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*iauth.Identity, error)
}

// Auth rejects requests without a valid bearer session token.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			response.Error(c, errors.ErrInvalidSession)
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.UserID)
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}

// IdentityFromContext returns the identity stored by Auth.
func IdentityFromContext(c *gin.Context) (*iauth.Identity, bool) {
	value, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*iauth.Identity)
	return identity, ok && identity != nil
}
