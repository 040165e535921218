package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/pkg/response"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "secret",
		Issuer: "test-suite",
	})
	require.NoError(t, err)

	token, err := jwtSvc.Issue(iauth.Identity{
		UserID: "user-123",
		Email:  "asha@test.io",
		Name:   "Asha",
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Auth(jwtSvc), func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString(CtxUserIDKey),
			"email":   identity.Email,
		})
	})

	// Missing Authorization header -> 401 UNAUTHORIZED
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	var missing response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &missing))
	require.Equal(t, "UNAUTHORIZED", missing.Error.Code)

	// Garbage token -> 401 INVALID_OR_EXPIRED_TOKEN
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var failure response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failure))
	require.False(t, failure.Success)
	require.Equal(t, "INVALID_OR_EXPIRED_TOKEN", failure.Error.Code)
	require.Equal(t, `Bearer error="invalid_token"`, w.Header().Get("WWW-Authenticate"))

	// Token signed with another secret -> same rejection
	other, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "other-secret", Issuer: "test-suite"})
	require.NoError(t, err)
	forged, err := other.Issue(iauth.Identity{UserID: "user-123", Email: "asha@test.io"})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failure))
	require.Equal(t, "INVALID_OR_EXPIRED_TOKEN", failure.Error.Code)

	// Valid token -> downstream handler executes
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "user-123", payload["user_id"])
	require.Equal(t, "asha@test.io", payload["email"])
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]struct {
		header string
		token  string
		ok     bool
	}{
		"missing":    {header: "", ok: false},
		"basic":      {header: "Basic abc", ok: false},
		"empty":      {header: "Bearer    ", ok: false},
		"valid":      {header: "Bearer abc.def", token: "abc.def", ok: true},
		"mixed case": {header: "BEARER abc", token: "abc", ok: true},
	}

	for name, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			c.Request.Header.Set("Authorization", tc.header)
		}
		token, ok := BearerToken(c)
		require.Equal(t, tc.ok, ok, name)
		require.Equal(t, tc.token, token, name)
	}
}
