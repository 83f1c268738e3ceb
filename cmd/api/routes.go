package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"consultation-service/internal/httpapi"
	"consultation-service/internal/rbac"
	"consultation-service/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, health gin.HandlerFunc, devLogin bool) {
	// public
	r.GET("/healthz", health)

	if devLogin {
		// Local/staging token issuance; production tokens come from the identity provider.
		r.POST("/v1/auth/login", h.Login)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("",
				rbac.RequireOrg(),
				rbac.RequireAnyRole(rbac.RoleClinician, rbac.RoleCoordinator, rbac.RoleService),
				h.CreateSession)
			sessions.GET("", h.ListSessions)

			// Participant-or-staff checks happen in the handlers; they need the session.
			sessions.GET("/:id", h.GetSession)
			sessions.GET("/:id/events", h.ListEvents)
			sessions.GET("/:id/feed", h.Feed)
			sessions.POST("/:id/start", h.StartSession)
			sessions.POST("/:id/join", h.JoinSession)
			sessions.POST("/:id/leave", h.LeaveSession)
			sessions.POST("/:id/end", h.EndSession)
			sessions.POST("/:id/cancel", h.CancelSession)
			sessions.PUT("/:id/notes", h.UpdateNotes)
			sessions.POST("/:id/no-show",
				rbac.RequireAnyRole(rbac.RoleCoordinator, rbac.RoleService),
				h.MarkNoShow)
		}

		// METRICS routes
		metrics := v1.Group("/metrics")
		metrics.Use(rbac.RequireAnyRole(rbac.RoleCoordinator, rbac.RoleSuperAdmin))
		{
			metrics.GET("/usage", h.UsageMetrics)
		}
	}
}

// healthCheck pings postgres and, when configured, redis.
func healthCheck(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"postgres": "ok"}
		status := http.StatusOK
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			checks["postgres"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}
