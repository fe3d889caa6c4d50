package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL,
            room_kind TEXT NOT NULL,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL,
            encrypted BOOLEAN DEFAULT FALSE,
            kind TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS message_audit (
            id SERIAL PRIMARY KEY,
            message_id TEXT NOT NULL,
            room_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            recorded_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS crisis_alerts (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            severity TEXT NOT NULL,
            status TEXT NOT NULL,
            triggered_at TIMESTAMPTZ NOT NULL,
            resolved_at TIMESTAMPTZ
        );`,
		`CREATE TABLE IF NOT EXISTS crisis_audit (
            id SERIAL PRIMARY KEY,
            alert_id TEXT NOT NULL,
            event TEXT NOT NULL,
            acting_user_id TEXT NOT NULL,
            occurred_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_crisis_audit_alert ON crisis_audit (alert_id, occurred_at);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
