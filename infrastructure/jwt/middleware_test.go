package jwt_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/jwt"
)

const secret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/cache", jwt.Middleware(secret), jwt.RequireRole("cache:admin"), func(c *gin.Context) {
		claims, _ := jwt.GetClaims(c)
		c.String(http.StatusOK, claims.Sub)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	admin, err := jwt.Sign(secret, "ops", []string{"cache:admin"}, time.Hour)
	require.NoError(t, err)
	reader, err := jwt.Sign(secret, "reader", nil, time.Hour)
	require.NoError(t, err)
	forged, err := jwt.Sign("other-secret", "ops", []string{"cache:admin"}, time.Hour)
	require.NoError(t, err)
	expired, err := jwt.Sign(secret, "ops", []string{"cache:admin"}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"admin token", "Bearer " + admin, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + admin, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"missing role", "Bearer " + reader, http.StatusForbidden},
	}

	router := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodDelete, "/cache", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
