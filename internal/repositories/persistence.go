package repositories

import (
	"context"
	"log"

	"crisis-comms/internal/db"
	"crisis-comms/internal/models"
)

// Persistence bundles the message and crisis repositories together with the
// collaborator's health mode for the health endpoint.
type Persistence struct {
	Messages MessageRepository
	Crisis   CrisisRepository
	Mode     string
}

// NewPersistence connects to Postgres, falling back to in-memory-only
// operation (noop repositories) when the database is unreachable. The core
// must keep working without its durability collaborator.
func NewPersistence(dsn string) *Persistence {
	database, err := db.Connect(dsn)
	if err != nil {
		log.Printf("persistence disabled, using noop: %v", err)
		return &Persistence{Messages: noopMessageRepo{}, Crisis: noopCrisisRepo{}, Mode: "degraded"}
	}

	log.Printf("persistence connected")
	return &Persistence{
		Messages: NewMessageRepo(database),
		Crisis:   NewCrisisRepo(database),
		Mode:     "ok",
	}
}

type noopMessageRepo struct{}

func (noopMessageRepo) SaveMessage(context.Context, models.RoomKind, models.Message) error {
	return nil
}

func (noopMessageRepo) ListRoomMessages(context.Context, string) ([]models.Message, error) {
	return nil, nil
}

func (noopMessageRepo) SaveMessageAudit(context.Context, models.MessageAuditRecord) error {
	return nil
}

type noopCrisisRepo struct{}

func (noopCrisisRepo) SaveAlert(context.Context, models.CrisisAlert) error { return nil }

func (noopCrisisRepo) SaveAuditEntry(context.Context, models.CrisisAuditEntry) error { return nil }

func (noopCrisisRepo) ListAuditEntries(context.Context, string) ([]models.CrisisAuditEntry, error) {
	return nil, nil
}
