package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accounts/internal/monitoring"
	"github.com/charlesng35/accounts/pkg/response"
)

// Health returns a static liveness payload.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Readiness evaluates the registered readiness probes and answers 503 when any
// dependency is not up.
func Readiness(health *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if health == nil {
			response.Success(c, http.StatusOK, monitoring.HealthReport{Success: true, Status: monitoring.StatusUp})
			return
		}

		report := health.EvaluateReadiness(requestContext(c))
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success": report.Success,
			"data":    report,
		})
	}
}
