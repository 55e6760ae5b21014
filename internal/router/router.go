// Package router registers the HTTP routes. Unauthenticated surfaces
// (health, auth) live at the top level and under /v1/auth; everything
// else sits behind JWT auth under /v1.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dosetrack/dosetrack/internal/config"
	"github.com/dosetrack/dosetrack/internal/handler"
	"github.com/dosetrack/dosetrack/internal/middleware"
)

// Handlers collects everything the router wires up.
type Handlers struct {
	Auth          *handler.AuthHandler
	Schedules     *handler.ScheduleHandler
	Inventory     *handler.InventoryHandler
	Notifications *handler.NotificationHandler
	Dashboard     *handler.DashboardHandler
}

// Register wires all routes on the Echo instance. The rate limiter
// covers the whole /v1 surface; the response cache covers only the
// read-heavy GET endpoints where a short-TTL stale read is acceptable.
func Register(e *echo.Echo, h Handlers, cfg config.Config, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	pub := e.Group("/v1/auth", limiter)
	pub.POST("/register", h.Auth.Register)
	pub.POST("/login", h.Auth.Login)
	pub.POST("/refresh", h.Auth.Refresh)
	pub.POST("/refresh-access", h.Auth.RefreshAccess)

	auth := e.Group("/v1", limiter, middleware.JWTAuth(cfg.JWTSecret))

	auth.POST("/auth/logout", h.Auth.Logout)
	auth.GET("/me", h.Auth.Me)
	auth.PUT("/me", h.Auth.UpdateProfile)
	auth.PUT("/me/password", h.Auth.ChangePassword)

	auth.POST("/schedules", h.Schedules.Create)
	auth.GET("/schedules", h.Schedules.List, cache)
	auth.GET("/schedules/:id", h.Schedules.Get, cache)
	auth.PUT("/schedules/:id", h.Schedules.Update)
	auth.DELETE("/schedules/:id", h.Schedules.Delete)
	auth.POST("/schedules/:id/activate", h.Schedules.Activate)
	auth.POST("/schedules/:id/deactivate", h.Schedules.Deactivate)
	auth.PUT("/schedules/:id/quantity", h.Schedules.UpdateQuantity)

	auth.POST("/inventory", h.Inventory.Create)
	auth.GET("/inventory", h.Inventory.List, cache)
	auth.GET("/inventory/low-stock", h.Inventory.LowStock, cache)
	auth.GET("/inventory/expired", h.Inventory.Expired, cache)
	auth.GET("/inventory/expiring-soon", h.Inventory.ExpiringSoon, cache)
	auth.GET("/inventory/:id", h.Inventory.Get, cache)
	auth.PUT("/inventory/:id", h.Inventory.Update)
	auth.DELETE("/inventory/:id", h.Inventory.Delete)
	auth.POST("/inventory/:id/adjust", h.Inventory.Adjust)

	auth.GET("/notifications", h.Notifications.List, cache)
	auth.GET("/notifications/recent", h.Notifications.Recent, cache)
	auth.GET("/notifications/failed", h.Notifications.Failed, cache)
	auth.GET("/notifications/stats", h.Notifications.Stats, cache)
	auth.GET("/notifications/:id", h.Notifications.Get)

	auth.GET("/dashboard", h.Dashboard.Dashboard, cache)
}
