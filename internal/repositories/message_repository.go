package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"crisis-comms/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the persistence hook for the messaging engine. The
// engine treats every call as fire-and-forget: a failure is logged, never
// surfaced to the sender.
type MessageRepository interface {
	SaveMessage(ctx context.Context, roomKind models.RoomKind, msg models.Message) error
	ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
	SaveMessageAudit(ctx context.Context, record models.MessageAuditRecord) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// SaveMessage mirrors an accepted message into the durable log. Content is
// ciphertext for encryption-enabled rooms.
func (r *MessageRepo) SaveMessage(ctx context.Context, roomKind models.RoomKind, msg models.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, room_kind, sender_id, content, encrypted, kind, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content`,
		msg.ID, msg.RoomID, roomKind, msg.SenderID, msg.Content, msg.Encrypted, msg.Kind, msg.CreatedAt)
	return err
}

// ListRoomMessages returns the durable log for a room in send order.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, room_id, sender_id, content, encrypted, kind, created_at
         FROM messages WHERE room_id=$1 ORDER BY created_at ASC`, roomID)
	return msgs, err
}

// SaveMessageAudit writes the therapy-session audit record.
func (r *MessageRepo) SaveMessageAudit(ctx context.Context, record models.MessageAuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_audit (message_id, room_id, kind, created_at, recorded_at)
         VALUES ($1, $2, $3, $4, $5)`,
		record.MessageID, record.RoomID, record.Kind, record.CreatedAt, record.RecordedAt)
	return err
}
