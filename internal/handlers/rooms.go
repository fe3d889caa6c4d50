package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crisis-comms/internal/middleware"
	"crisis-comms/internal/models"
	"crisis-comms/internal/repositories"
	"crisis-comms/internal/seal"
	"crisis-comms/internal/store"
)

// RoomHandler serves the read-side room endpoints.
type RoomHandler struct {
	store *store.Store
	repo  repositories.MessageRepository
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(st *store.Store, repo repositories.MessageRepository) *RoomHandler {
	return &RoomHandler{store: st, repo: repo}
}

// ListRooms returns snapshots of every room the caller participates in.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetString("userID")

	rooms := h.store.RoomsForUser(userID)
	snapshots := make([]models.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snapshots = append(snapshots, room.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"rooms": snapshots})
}

// GetRoomMessages returns a room's message history, decrypted for viewing.
// Falls back to persisted history when the in-memory room holds nothing.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	room, ok := h.store.Room(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if !room.HasParticipant(userID) && middleware.RoleFromContext(c) != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	msgs := room.Messages()
	if len(msgs) == 0 && h.repo != nil {
		persisted, err := h.repo.ListRoomMessages(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
		msgs = persisted
	}

	if room.Encrypted {
		for i := range msgs {
			msgs[i].Content = seal.OpenOrPlaceholder(room.Key, msgs[i].Content)
		}
	}

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": msgs})
}
