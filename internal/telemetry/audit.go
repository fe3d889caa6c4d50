package telemetry

import (
	"context"
	"log"
	"time"

	"crisis-comms/internal/models"
	"crisis-comms/internal/repositories"
)

// AuditTrail records crisis and therapy audit entries through the persistence
// layer. Every call is fire-and-forget: a persistence failure is logged and
// never blocks or fails the in-memory transition that produced it.
type AuditTrail struct {
	crisis   repositories.CrisisRepository
	messages repositories.MessageRepository
	timeout  time.Duration
}

// NewAuditTrail constructs the trail over the persistence repositories.
func NewAuditTrail(crisis repositories.CrisisRepository, messages repositories.MessageRepository) *AuditTrail {
	return &AuditTrail{crisis: crisis, messages: messages, timeout: 5 * time.Second}
}

// RecordCrisisEvent writes one {alertID, event, actingUserID, timestamp} row.
func (t *AuditTrail) RecordCrisisEvent(alertID, event, actingUserID string, at time.Time) {
	if t == nil || t.crisis == nil {
		return
	}
	entry := models.CrisisAuditEntry{
		AlertID:      alertID,
		Event:        event,
		ActingUserID: actingUserID,
		Timestamp:    at,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.crisis.SaveAuditEntry(ctx, entry); err != nil {
			log.Printf("crisis audit write failed alert_id=%s event=%s: %v", alertID, event, err)
		}
	}()
}

// RecordAlert mirrors the alert record itself so its lifecycle survives the
// in-memory grace-period deletion.
func (t *AuditTrail) RecordAlert(alert models.CrisisAlert) {
	if t == nil || t.crisis == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.crisis.SaveAlert(ctx, alert); err != nil {
			log.Printf("crisis alert write failed alert_id=%s: %v", alert.ID, err)
		}
	}()
}

// RecordTherapyMessage writes the structured therapy-session audit record.
// The record carries ids, timestamps and type only, never content.
func (t *AuditTrail) RecordTherapyMessage(msg models.Message, at time.Time) {
	if t == nil || t.messages == nil {
		return
	}
	record := models.MessageAuditRecord{
		MessageID:  msg.ID,
		RoomID:     msg.RoomID,
		Kind:       msg.Kind,
		CreatedAt:  msg.CreatedAt,
		RecordedAt: at,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.messages.SaveMessageAudit(ctx, record); err != nil {
			log.Printf("therapy audit write failed message_id=%s: %v", msg.ID, err)
		}
	}()
}
