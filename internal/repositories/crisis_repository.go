package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"crisis-comms/internal/models"
)

var ErrAlertNotFound = errors.New("alert not found")

// CrisisRepository persists the crisis audit trail and alert records.
type CrisisRepository interface {
	SaveAlert(ctx context.Context, alert models.CrisisAlert) error
	SaveAuditEntry(ctx context.Context, entry models.CrisisAuditEntry) error
	ListAuditEntries(ctx context.Context, alertID string) ([]models.CrisisAuditEntry, error)
}

// CrisisRepo is a sqlx-backed repository.
type CrisisRepo struct {
	db *sqlx.DB
}

// NewCrisisRepo constructs CrisisRepo.
func NewCrisisRepo(db *sqlx.DB) *CrisisRepo {
	return &CrisisRepo{db: db}
}

// SaveAlert upserts the alert record, keeping severity/status current.
func (r *CrisisRepo) SaveAlert(ctx context.Context, alert models.CrisisAlert) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO crisis_alerts (id, user_id, severity, status, triggered_at, resolved_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, resolved_at = EXCLUDED.resolved_at`,
		alert.ID, alert.UserID, alert.Severity, alert.Status, alert.TriggeredAt, alert.ResolvedAt)
	return err
}

// SaveAuditEntry appends one audit trail row.
func (r *CrisisRepo) SaveAuditEntry(ctx context.Context, entry models.CrisisAuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO crisis_audit (alert_id, event, acting_user_id, occurred_at)
         VALUES ($1, $2, $3, $4)`,
		entry.AlertID, entry.Event, entry.ActingUserID, entry.Timestamp)
	return err
}

// ListAuditEntries returns the audit trail for one alert in order.
func (r *CrisisRepo) ListAuditEntries(ctx context.Context, alertID string) ([]models.CrisisAuditEntry, error) {
	var entries []models.CrisisAuditEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT alert_id, event, acting_user_id, occurred_at
         FROM crisis_audit WHERE alert_id=$1 ORDER BY occurred_at ASC`, alertID)
	return entries, err
}
