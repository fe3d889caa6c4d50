package models

import "time"

// Severity grades a crisis alert and drives escalation timing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is recognised.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of a crisis alert.
type AlertStatus string

const (
	AlertActive     AlertStatus = "active"
	AlertResponding AlertStatus = "responding"
	AlertEscalated  AlertStatus = "escalated"
	AlertResolved   AlertStatus = "resolved"
)

// Location is a sanitized geographic fix attached to an alert.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// CrisisAlert is a user-reported emergency tracked through its lifecycle.
type CrisisAlert struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	RoomID      string      `json:"room_id"`
	Severity    Severity    `json:"severity"`
	Message     string      `json:"message"`
	Symptoms    []string    `json:"symptoms"`
	HelpTags    []string    `json:"help_tags"`
	Location    *Location   `json:"location,omitempty"`
	Status      AlertStatus `json:"status"`
	Responders  []string    `json:"responders"`
	TriggeredAt time.Time   `json:"triggered_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// Responder is an on-duty crisis responder as reported by the directory.
type Responder struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Phone       string   `json:"phone,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
}

// CrisisAuditEntry is the audit trail record written on every transition.
type CrisisAuditEntry struct {
	AlertID      string    `json:"alert_id" db:"alert_id"`
	Event        string    `json:"event" db:"event"`
	ActingUserID string    `json:"acting_user_id" db:"acting_user_id"`
	Timestamp    time.Time `json:"timestamp" db:"occurred_at"`
}

// NotificationIntent asks the external dispatcher to reach a user out of band.
type NotificationIntent struct {
	UserID  string    `json:"user_id"`
	Kind    string    `json:"kind"`
	RoomID  string    `json:"room_id,omitempty"`
	AlertID string    `json:"alert_id,omitempty"`
	Body    string    `json:"body,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}
