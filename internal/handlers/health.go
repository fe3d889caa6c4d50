package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crisis-comms/internal/rabbitmq"
	"crisis-comms/internal/repositories"
	"crisis-comms/internal/responders"
)

// HealthHandler reports liveness plus the degradation state of each
// collaborator. The service stays up even when they are all down.
type HealthHandler struct {
	persistence *repositories.Persistence
	publisher   rabbitmq.Publisher
	directory   responders.Directory
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(p *repositories.Persistence, pub rabbitmq.Publisher, dir responders.Directory) *HealthHandler {
	return &HealthHandler{persistence: p, publisher: pub, directory: dir}
}

// Healthz reports service health and collaborator modes.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"persistence": h.persistence.Mode,
		"notifier":    rabbitmq.PublisherMode(h.publisher),
		"responders":  h.directory.Mode(),
	})
}
