package ws

import (
	"time"

	"crisis-comms/internal/models"
)

// ConnInfo is per-connection metadata captured at handshake time.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Role        models.Role
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
