package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crisis-comms/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, audit *telemetry.AuditTrail, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit trail not configured"})
			return
		}
		audit.RecordCrisisEvent("debug", "audit_test", c.GetString("userID"), time.Now())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
