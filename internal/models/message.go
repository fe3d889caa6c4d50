package models

import "time"

// MessageKind is the payload type of a message.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// MessageStatus tracks delivery progress. Transitions are monotonic.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Advance returns the later of the two statuses, never moving backwards.
func (s MessageStatus) Advance(to MessageStatus) MessageStatus {
	if statusRank[to] > statusRank[s] {
		return to
	}
	return s
}

// Attachment is a reference to an uploaded blob carried by a message.
type Attachment struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Message is a single room message. Content holds ciphertext when the
// room is encryption-enabled.
type Message struct {
	ID          string        `db:"id" json:"id"`
	RoomID      string        `db:"room_id" json:"room_id"`
	SenderID    string        `db:"sender_id" json:"sender_id"`
	Content     string        `db:"content" json:"content"`
	Encrypted   bool          `db:"encrypted" json:"encrypted"`
	Kind        MessageKind   `db:"kind" json:"kind"`
	Status      MessageStatus `db:"-" json:"status"`
	ReplyTo     string        `db:"-" json:"reply_to,omitempty"`
	Attachments []Attachment  `db:"-" json:"attachments,omitempty"`
	Edited      bool          `db:"-" json:"edited"`
	EditedAt    *time.Time    `db:"-" json:"edited_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// ReadReceipt records that a user has read a message. Append-only.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MessageAuditRecord is the structured audit entry written for therapy-room
// traffic. It deliberately carries no content.
type MessageAuditRecord struct {
	MessageID  string      `json:"message_id" db:"message_id"`
	RoomID     string      `json:"room_id" db:"room_id"`
	Kind       MessageKind `json:"kind" db:"kind"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	RecordedAt time.Time   `json:"recorded_at" db:"recorded_at"`
}
