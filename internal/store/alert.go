package store

import (
	"sync"

	"crisis-comms/internal/models"
)

// Alert wraps a crisis alert with its own lock so that status transitions for
// one alert are serialized while unrelated alerts proceed concurrently.
type Alert struct {
	mu   sync.Mutex
	data models.CrisisAlert
}

// PutAlert stores a new alert and returns its handle.
func (s *Store) PutAlert(alert models.CrisisAlert) *Alert {
	handle := &Alert{data: alert}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.alerts[alert.ID] = handle
	return handle
}

// Alert looks up an alert by id.
func (s *Store) Alert(id string) (*Alert, bool) {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()

	alert, ok := s.alerts[id]
	return alert, ok
}

// RemoveAlert drops an alert once its post-resolution grace period elapses.
func (s *Store) RemoveAlert(id string) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	delete(s.alerts, id)
}

// Alerts returns every tracked alert handle.
func (s *Store) Alerts() []*Alert {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()

	out := make([]*Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		out = append(out, alert)
	}
	return out
}

// ActiveAlertForUser finds the user's most recent non-resolved alert.
func (s *Store) ActiveAlertForUser(userID string) (*Alert, bool) {
	var found *Alert
	var foundAt models.CrisisAlert
	for _, handle := range s.Alerts() {
		snap := handle.Snapshot()
		if snap.UserID != userID || snap.Status == models.AlertResolved {
			continue
		}
		if found == nil || snap.TriggeredAt.After(foundAt.TriggeredAt) {
			found = handle
			foundAt = snap
		}
	}
	return found, found != nil
}

// Update applies fn to the alert under its lock.
func (a *Alert) Update(fn func(*models.CrisisAlert)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.data)
}

// Transition applies fn only when the alert is currently in one of the given
// states, reporting whether it ran. Check and mutation happen under one lock
// so no two transitions for the same alert interleave.
func (a *Alert) Transition(fn func(*models.CrisisAlert), from ...models.AlertStatus) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	allowed := len(from) == 0
	for _, status := range from {
		if a.data.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	fn(&a.data)
	return true
}

// Snapshot returns a copy of the alert record.
func (a *Alert) Snapshot() models.CrisisAlert {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.data
	snap.Responders = append([]string(nil), a.data.Responders...)
	snap.Symptoms = append([]string(nil), a.data.Symptoms...)
	snap.HelpTags = append([]string(nil), a.data.HelpTags...)
	if a.data.Location != nil {
		loc := *a.data.Location
		snap.Location = &loc
	}
	return snap
}
