// Package handlers holds route handlers that do not belong to a feature
// group.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthChecker is implemented by dependencies that can be probed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health returns the liveness handler probing Postgres and Redis.
func Health(db HealthChecker, redis HealthChecker, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dependencies := gin.H{}
		healthy := true

		if db == nil {
			dependencies["database"] = "unhealthy"
			healthy = false
		} else if err := db.HealthCheck(ctx); err != nil {
			logger.WithError(err).Error("PostgreSQL health check failed")
			dependencies["database"] = "unhealthy"
			healthy = false
		} else {
			dependencies["database"] = "ok"
		}

		if redis == nil {
			dependencies["redis"] = "unhealthy"
			healthy = false
		} else if err := redis.HealthCheck(ctx); err != nil {
			logger.WithError(err).Error("Redis health check failed")
			dependencies["redis"] = "unhealthy"
			healthy = false
		} else {
			dependencies["redis"] = "ok"
		}

		status := gin.H{
			"status":       "ok",
			"timestamp":    time.Now().Format(time.RFC3339),
			"service":      "vault-api",
			"dependencies": dependencies,
		}

		if !healthy {
			status["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}

		c.JSON(http.StatusOK, status)
	}
}
