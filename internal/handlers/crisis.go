package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crisis-comms/internal/crisis"
	"crisis-comms/internal/middleware"
	"crisis-comms/internal/repositories"
)

// CrisisHandler serves the responder read-side for crisis alerts.
type CrisisHandler struct {
	engine *crisis.Engine
	repo   repositories.CrisisRepository
}

// NewCrisisHandler builds a CrisisHandler.
func NewCrisisHandler(engine *crisis.Engine, repo repositories.CrisisRepository) *CrisisHandler {
	return &CrisisHandler{engine: engine, repo: repo}
}

// ListActiveAlerts returns every non-resolved alert. Responders and
// therapists only.
func (h *CrisisHandler) ListActiveAlerts(c *gin.Context) {
	role := middleware.RoleFromContext(c)
	if !role.CanRespond() {
		c.JSON(http.StatusForbidden, gin.H{"error": "responder role required"})
		return
	}

	alerts := h.engine.ActiveAlerts()
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// GetAlertAudit returns the audit trail for one alert.
func (h *CrisisHandler) GetAlertAudit(c *gin.Context) {
	role := middleware.RoleFromContext(c)
	if !role.CanRespond() {
		c.JSON(http.StatusForbidden, gin.H{"error": "responder role required"})
		return
	}

	entries, err := h.repo.ListAuditEntries(c.Request.Context(), c.Param("alert_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": c.Param("alert_id"), "entries": entries})
}
