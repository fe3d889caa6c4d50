package models

import "time"

// Event is the envelope for everything sent to a client connection.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound command names.
const (
	CmdJoinRoom     = "join-room"
	CmdLeaveRoom    = "leave-room"
	CmdSendMessage  = "send-message"
	CmdEditMessage  = "edit-message"
	CmdDeleteMsg    = "delete-message"
	CmdTyping       = "typing-indicator"
	CmdReadReceipt  = "read-receipt"
	CmdCrisisAlert  = "crisis-alert"
	CmdCrisisAccept = "crisis-accept"
	CmdCrisisStatus = "crisis-status-update"
	CmdShareLoc     = "location-share"
	CmdHeartbeat    = "heartbeat"
)

// Outbound event names.
const (
	EvtConnected         = "connected"
	EvtRoomJoined        = "room-joined"
	EvtUserJoined        = "user-joined"
	EvtUserLeft          = "user-left"
	EvtPresenceChanged   = "presence-changed"
	EvtNewMessage        = "new-message"
	EvtMessageAck        = "message-ack"
	EvtQueuedMessages    = "queued-messages"
	EvtMessageDelivered  = "message-delivered"
	EvtMessageRead       = "message-read"
	EvtMessageEdited     = "message-edited"
	EvtMessageDeleted    = "message-deleted"
	EvtTyping            = "typing-indicator"
	EvtAlertConfirmed    = "crisis-alert-confirmed"
	EvtAlertBroadcast    = "crisis-alert-broadcast"
	EvtResponderAssigned = "responder-assigned"
	EvtStatusChanged     = "crisis-status-changed"
	EvtEscalated         = "crisis-escalated"
	EvtLocationUpdate    = "location-update"
	EvtDisconnectWarning = "disconnect-warning"
	EvtRoomError         = "room-error"
	EvtMessageError      = "message-error"
	EvtCrisisError       = "crisis-error"
)

// MessageAckPayload acknowledges an accepted message to its sender.
type MessageAckPayload struct {
	MessageID string        `json:"message_id"`
	RoomID    string        `json:"room_id"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// DeliveredPayload tells a sender one recipient received the message.
type DeliveredPayload struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
}

// ReadPayload tells a sender one recipient read the message.
type ReadPayload struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// TypingPayload signals a typing-indicator change.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// QueuedMessagesPayload delivers a drained offline queue on room join.
type QueuedMessagesPayload struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
}

// PresencePayload signals a participant's online flag flipping.
type PresencePayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// MessageDeletedPayload broadcasts removal of a message.
type MessageDeletedPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

// AlertConfirmedPayload acknowledges a crisis trigger to its user.
type AlertConfirmedPayload struct {
	AlertID                  string      `json:"alert_id"`
	RoomID                   string      `json:"room_id"`
	Severity                 Severity    `json:"severity"`
	Status                   AlertStatus `json:"status"`
	EstimatedResponseSeconds int         `json:"estimated_response_seconds"`
}

// AlertBroadcastPayload notifies responders of an alert needing attention.
type AlertBroadcastPayload struct {
	Alert    CrisisAlert `json:"alert"`
	Priority string      `json:"priority"`
}

// ResponderAssignedPayload tells the alert's user who is coming.
type ResponderAssignedPayload struct {
	AlertID             string    `json:"alert_id"`
	Responder           Responder `json:"responder"`
	EstimatedETASeconds int       `json:"estimated_eta_seconds"`
}

// StatusChangedPayload broadcasts an alert status transition.
type StatusChangedPayload struct {
	AlertID   string      `json:"alert_id"`
	Status    AlertStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	ChangedBy string      `json:"changed_by"`
}

// EscalatedPayload tells the alert's user escalation has happened.
type EscalatedPayload struct {
	AlertID   string `json:"alert_id"`
	Directive string `json:"directive"`
}

// LocationUpdatePayload relays a live location fix.
type LocationUpdatePayload struct {
	AlertID  string   `json:"alert_id,omitempty"`
	UserID   string   `json:"user_id"`
	Location Location `json:"location"`
}

// ConnectedPayload acknowledges a registered connection.
type ConnectedPayload struct {
	SessionID         string    `json:"session_id"`
	ConnectionID      string    `json:"connection_id"`
	ServerTime        time.Time `json:"server_time"`
	FeatureFlags      []string  `json:"feature_flags"`
	HeartbeatInterval int       `json:"heartbeat_interval_seconds"`
}

// ErrorPayload is the body of room-error/message-error/crisis-error events.
type ErrorPayload struct {
	Error string `json:"error"`
}
