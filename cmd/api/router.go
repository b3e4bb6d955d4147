package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"owlfenc-backend/internal/shared/middleware"
	"owlfenc-backend/pkg/container"
)

func SetupRouter(c *container.Container) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.CORS(c.Config.App.CORSOrigins),
	)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheckHandler(c))
		v1.GET("/db-test", databaseTestHandler(c))

		setupSigningRoutes(v1, c)
		setupContractRoutes(v1, c)
	}

	return router
}

// ========================================
// SIGNING ROUTES (PUBLIC, TOKEN IN PATH)
// ========================================
func setupSigningRoutes(v1 *gin.RouterGroup, c *container.Container) {
	c.SigningHandler.RegisterRoutes(v1)
}

// ========================================
// CONTRACT ROUTES (OWNER)
// ========================================
func setupContractRoutes(v1 *gin.RouterGroup, c *container.Container) {
	owner := v1.Group("")
	owner.Use(middleware.AuthMiddleware(c.JWTManager))
	c.ContractHandler.RegisterRoutes(owner)
}

// ========================================
// HEALTH CHECK HANDLER
// ========================================
func healthCheckHandler(appCtx *container.Container) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   appCtx.Config.App.Version,
			"store":     appCtx.Config.Store.Driver,
		}

		// Check database
		dbStatus := "ok"
		switch {
		case appCtx.Config.Store.Driver == "memory":
			dbStatus = "not used"
		case appCtx.DB == nil || appCtx.DB.Pool == nil:
			dbStatus = "disconnected"
			health["status"] = "degraded"
		default:
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			if err := appCtx.DB.HealthCheck(ctx); err != nil {
				dbStatus = fmt.Sprintf("error: %v", err)
				health["status"] = "degraded"
			}
		}

		// Check redis. Without it the service still works, uncached and
		// with inline completion notices.
		redisStatus := "ok"
		if appCtx.Redis == nil {
			redisStatus = "disconnected"
		} else {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			if err := appCtx.Redis.HealthCheck(ctx); err != nil {
				redisStatus = fmt.Sprintf("error: %v", err)
			}
		}

		health["services"] = gin.H{
			"database": dbStatus,
			"redis":    redisStatus,
		}

		statusCode := http.StatusOK
		if health["status"] != "ok" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, health)
	}
}

// ========================================
// DATABASE TEST HANDLER
// ========================================
func databaseTestHandler(appCtx *container.Container) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appCtx.DB == nil || appCtx.DB.Pool == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Database not connected",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		var version string
		if err := appCtx.DB.Pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Query failed: %v", err),
			})
			return
		}

		stats, err := appCtx.DB.Stats()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Database test successful",
			"database": gin.H{
				"postgres_version": version,
				"pool_stats": gin.H{
					"total_connections":    stats.TotalConns,
					"idle_connections":     stats.IdleConns,
					"acquired_connections": stats.AcquiredConns,
					"max_connections":      stats.MaxConns,
					"avg_acquire":          stats.AvgAcquire().String(),
				},
			},
		})
	}
}
