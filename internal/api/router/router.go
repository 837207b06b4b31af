package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// SetupRouter configures the lead API router
func SetupRouter(deps *handler.Dependencies, checks map[string]HealthCheck) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler("lead-api-service", checks))

	leadHandler := handler.NewLeadHandler(deps)

	v1 := r.Group("/api/v1")
	{
		leads := v1.Group("/leads")
		{
			// POST /api/v1/leads - Register a lead
			leads.POST("", leadHandler.CreateLead)

			// GET /api/v1/leads - List leads with filtering and pagination
			leads.GET("", leadHandler.ListLeads)

			// GET /api/v1/leads/:lead_id - Get lead details
			leads.GET("/:lead_id", leadHandler.GetLead)
		}

		// POST /api/v1/signals - Inbound reply/bounce webhook
		v1.POST("/signals", leadHandler.CreateSignal)
	}

	return r
}

// healthHandler runs every check and answers 503 if any fails
func healthHandler(service string, checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		health := "healthy"
		if status != http.StatusOK {
			health = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":  health,
			"service": service,
			"checks":  results,
		})
	}
}
