package router

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/campaign-crm/internal/campaign/supervisor"
	"github.com/gin-gonic/gin"
)

// StatusProvider exposes the supervisor snapshot
type StatusProvider interface {
	Status() supervisor.Status
}

// SetupStatusRouter configures the campaign service status endpoint
func SetupStatusRouter(logger *slog.Logger, provider StatusProvider, checks map[string]HealthCheck) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))

	r.GET("/health", healthHandler("campaign-service", checks))

	r.GET("/api/v1/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, provider.Status())
	})

	return r
}
