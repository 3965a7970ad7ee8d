package api

import (
	"github.com/gin-gonic/gin"

	infrajwt "github.com/jonesrussell/north-cloud/discovery/infrastructure/jwt"
)

// RoleCacheAdmin may flush the feed cache.
const RoleCacheAdmin = "cache:admin"

// SetupRoutes configures all API routes. Admin routes are only registered
// when jwtSecret is set.
func SetupRoutes(router *gin.Engine, handler *Handler, jwtSecret string) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/discover", handler.Discover)
		v1.GET("/daterange", handler.DateRange)
		v1.GET("/feed-links", handler.FeedLinks)
		v1.GET("/feeds/:format/*handle", handler.Feed)

		if jwtSecret != "" {
			admin := v1.Group("/admin", infrajwt.Middleware(jwtSecret), infrajwt.RequireRole(RoleCacheAdmin))
			admin.DELETE("/cache", handler.FlushCache)
		}
	}
}
