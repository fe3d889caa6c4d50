package crisis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crisis-comms/internal/models"
	"crisis-comms/internal/observability"
	"crisis-comms/internal/rabbitmq"
	"crisis-comms/internal/responders"
	"crisis-comms/internal/scheduler"
	"crisis-comms/internal/store"
	"crisis-comms/internal/telemetry"
)

const (
	maxAlertMessageLength = 500
	defaultAccuracyMeters = 50.0
	stayOnlineDirective   = "stay online, emergency escalation in progress"
)

var (
	ErrAlertNotFound = store.ErrAlertNotFound
	ErrUnauthorized  = errors.New("not allowed to act on this alert")
	ErrBadTransition = errors.New("alert is not in a state that allows this")
)

var markupRe = regexp.MustCompile(`<[^>]*>`)

// Emitter is what the engine needs from the connection manager.
type Emitter interface {
	EmitToUser(userID, event string, payload any) bool
	EmitToRoom(roomID, event string, payload any, excludeUserID string)
	BroadcastToRole(role models.Role, event string, payload any)
	JoinUser(userID, roomID string)
	Online(userID string) bool
}

// Engine drives the crisis alert state machine:
// active -> responding -> {resolved | escalated}; escalated -> resolved.
type Engine struct {
	store     *store.Store
	emitter   Emitter
	directory responders.Directory
	audit     *telemetry.AuditTrail
	notifier  rabbitmq.Publisher
	sched     *scheduler.Scheduler

	thresholds map[models.Severity]time.Duration
	grace      time.Duration
	now        func() time.Time

	availMu      sync.Mutex
	availability map[string]bool // responderID -> available
}

// NewEngine wires the crisis escalation engine.
func NewEngine(st *store.Store, emitter Emitter, directory responders.Directory, audit *telemetry.AuditTrail, notifier rabbitmq.Publisher, sched *scheduler.Scheduler, thresholds map[models.Severity]time.Duration, grace time.Duration) *Engine {
	return &Engine{
		store:        st,
		emitter:      emitter,
		directory:    directory,
		audit:        audit,
		notifier:     notifier,
		sched:        sched,
		thresholds:   thresholds,
		grace:        grace,
		now:          time.Now,
		availability: make(map[string]bool),
	}
}

// estimatedResponse maps severity to the response time promised to the user.
func estimatedResponse(severity models.Severity) time.Duration {
	switch severity {
	case models.SeverityCritical:
		return 5 * time.Minute
	case models.SeverityHigh:
		return 10 * time.Minute
	case models.SeverityMedium:
		return 20 * time.Minute
	case models.SeverityLow:
		return 30 * time.Minute
	}
	return 15 * time.Minute
}

// deriveHelpTags turns reported symptoms into the required-help tag set
// attached to responder broadcasts.
func deriveHelpTags(symptoms []string) []string {
	var tags []string
	seen := map[string]bool{}
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	for _, symptom := range symptoms {
		switch strings.ToLower(strings.TrimSpace(symptom)) {
		case "suicidal_thoughts":
			add("suicide_prevention")
		case "self_harm":
			add("self_harm_intervention")
		case "panic_attack", "panic":
			add("panic_support")
		case "substance_use", "overdose":
			add("substance_crisis")
		case "psychosis", "hallucinations":
			add("psychiatric_care")
		default:
			add("general_support")
		}
	}
	return tags
}

func sanitizeMessage(message string) string {
	cleaned := strings.TrimSpace(markupRe.ReplaceAllString(message, ""))
	runes := []rune(cleaned)
	if len(runes) > maxAlertMessageLength {
		return string(runes[:maxAlertMessageLength])
	}
	return cleaned
}

func sanitizeLocation(loc *models.Location) *models.Location {
	if loc == nil {
		return nil
	}
	out := *loc
	if out.Accuracy <= 0 {
		out.Accuracy = defaultAccuracyMeters
	}
	return &out
}

// Trigger creates a new alert in active state, opens its crisis room and
// broadcasts it to available responders. It always succeeds from the user's
// perspective; collaborator failures are logged, never surfaced. Returns the
// alert snapshot and the estimated response time.
func (e *Engine) Trigger(ctx context.Context, userID string, severity models.Severity, message string, symptoms []string, location *models.Location) (models.CrisisAlert, time.Duration, error) {
	if !severity.Valid() {
		severity = models.SeverityMedium
	}

	now := e.now()
	alertID := uuid.NewString()
	alert := models.CrisisAlert{
		ID:          alertID,
		UserID:      userID,
		RoomID:      "crisis-" + alertID,
		Severity:    severity,
		Message:     sanitizeMessage(message),
		Symptoms:    symptoms,
		HelpTags:    deriveHelpTags(symptoms),
		Location:    sanitizeLocation(location),
		Status:      models.AlertActive,
		TriggeredAt: now,
	}

	handle := e.store.PutAlert(alert)

	// Dedicated crisis room, initially containing only the alert's user.
	room, _ := e.store.GetOrCreateRoom(alert.RoomID, models.RoomCrisis, false, nil, now)
	room.Join(models.Participant{
		UserID:   userID,
		Role:     models.RoleMember,
		JoinedAt: now,
		LastSeen: now,
		Online:   e.emitter.Online(userID),
	})
	e.emitter.JoinUser(userID, alert.RoomID)

	observability.IncCrisisAlert(string(severity))
	e.audit.RecordAlert(alert)
	e.audit.RecordCrisisEvent(alertID, "triggered", userID, now)

	eta := estimatedResponse(severity)
	e.emitter.EmitToUser(userID, models.EvtAlertConfirmed, models.AlertConfirmedPayload{
		AlertID:                  alertID,
		RoomID:                   alert.RoomID,
		Severity:                 severity,
		Status:                   models.AlertActive,
		EstimatedResponseSeconds: int(eta.Seconds()),
	})

	e.broadcastToResponders(ctx, alert, "normal", false)

	// Critical alerts skip the monitor and escalate immediately.
	if severity == models.SeverityCritical {
		e.escalate(ctx, handle, "system")
	}

	return handle.Snapshot(), eta, nil
}

// broadcastToResponders notifies on-duty responders and on-call therapists.
// When includeBusy is false, responders currently assigned to an alert are
// skipped.
func (e *Engine) broadcastToResponders(ctx context.Context, alert models.CrisisAlert, priority string, includeBusy bool) {
	payload := models.AlertBroadcastPayload{Alert: alert, Priority: priority}

	roster, err := e.directory.OnDuty(ctx)
	if err != nil {
		log.Printf("responder directory unavailable alert_id=%s: %v", alert.ID, err)
	}
	for _, responder := range roster {
		if !includeBusy && !e.Available(responder.ID) {
			continue
		}
		e.emitter.EmitToUser(responder.ID, models.EvtAlertBroadcast, payload)
	}
	e.emitter.BroadcastToRole(models.RoleTherapist, models.EvtAlertBroadcast, payload)
}

// Available reports the responder's availability flag. Responders default to
// available until they accept an alert.
func (e *Engine) Available(responderID string) bool {
	e.availMu.Lock()
	defer e.availMu.Unlock()

	available, ok := e.availability[responderID]
	return !ok || available
}

func (e *Engine) setAvailable(responderID string, available bool) {
	e.availMu.Lock()
	defer e.availMu.Unlock()
	e.availability[responderID] = available
}

// Accept assigns a responder to an alert and transitions it to responding.
func (e *Engine) Accept(ctx context.Context, responderID string, role models.Role, alertID string) (models.CrisisAlert, error) {
	if !role.CanRespond() {
		return models.CrisisAlert{}, ErrUnauthorized
	}
	handle, ok := e.store.Alert(alertID)
	if !ok {
		return models.CrisisAlert{}, ErrAlertNotFound
	}

	transitioned := handle.Transition(func(a *models.CrisisAlert) {
		a.Status = models.AlertResponding
		a.Responders = append(a.Responders, responderID)
	}, models.AlertActive, models.AlertEscalated)
	if !transitioned {
		return models.CrisisAlert{}, ErrBadTransition
	}

	snap := handle.Snapshot()
	now := e.now()
	e.setAvailable(responderID, false)
	observability.IncCrisisTransition(string(models.AlertResponding))

	if room, ok := e.store.Room(snap.RoomID); ok {
		room.Join(models.Participant{
			UserID:   responderID,
			Role:     role,
			JoinedAt: now,
			LastSeen: now,
			Online:   e.emitter.Online(responderID),
		})
	}
	e.emitter.JoinUser(responderID, snap.RoomID)

	responder := e.responderInfo(ctx, responderID)
	e.emitter.EmitToUser(snap.UserID, models.EvtResponderAssigned, models.ResponderAssignedPayload{
		AlertID:             alertID,
		Responder:           responder,
		EstimatedETASeconds: int(estimatedResponse(snap.Severity).Seconds()),
	})
	e.emitter.EmitToRoom(snap.RoomID, models.EvtStatusChanged, models.StatusChangedPayload{
		AlertID:   alertID,
		Status:    models.AlertResponding,
		ChangedBy: responderID,
	}, "")

	e.audit.RecordAlert(snap)
	e.audit.RecordCrisisEvent(alertID, "accepted", responderID, now)
	return snap, nil
}

func (e *Engine) responderInfo(ctx context.Context, responderID string) models.Responder {
	roster, err := e.directory.OnDuty(ctx)
	if err == nil {
		for _, responder := range roster {
			if responder.ID == responderID {
				return responder
			}
		}
	}
	return models.Responder{ID: responderID}
}

// UpdateStatus applies a caller-requested transition. Only the alert's user
// or an assigned responder may call it. Resolved is terminal: no request
// moves an alert out of it.
func (e *Engine) UpdateStatus(ctx context.Context, userID, alertID string, status models.AlertStatus, note string) error {
	handle, ok := e.store.Alert(alertID)
	if !ok {
		return ErrAlertNotFound
	}
	snap := handle.Snapshot()
	if !canActOn(snap, userID) {
		return ErrUnauthorized
	}

	switch status {
	case models.AlertResolved:
		return e.Resolve(ctx, alertID, userID)
	case models.AlertEscalated:
		e.escalate(ctx, handle, userID)
		return nil
	case models.AlertResponding, models.AlertActive:
		from := []models.AlertStatus{models.AlertActive, models.AlertEscalated}
		if status == models.AlertActive {
			from = []models.AlertStatus{models.AlertResponding}
		}
		if !handle.Transition(func(a *models.CrisisAlert) { a.Status = status }, from...) {
			return ErrBadTransition
		}
		observability.IncCrisisTransition(string(status))
		e.emitter.EmitToRoom(snap.RoomID, models.EvtStatusChanged, models.StatusChangedPayload{
			AlertID:   alertID,
			Status:    status,
			Message:   note,
			ChangedBy: userID,
		}, "")
		e.audit.RecordCrisisEvent(alertID, "status_"+string(status), userID, e.now())
		return nil
	}
	return ErrBadTransition
}

func canActOn(alert models.CrisisAlert, userID string) bool {
	if alert.UserID == userID {
		return true
	}
	for _, responderID := range alert.Responders {
		if responderID == userID {
			return true
		}
	}
	return false
}

// ShareLocation updates live location on the caller's alert and relays it to
// the crisis room. Without an alert it still relays to on-duty responders
// for general tracking.
func (e *Engine) ShareLocation(ctx context.Context, userID, alertID string, loc models.Location) error {
	sanitized := sanitizeLocation(&loc)

	var handle *store.Alert
	if alertID != "" {
		var ok bool
		handle, ok = e.store.Alert(alertID)
		if !ok {
			return ErrAlertNotFound
		}
		if handle.Snapshot().UserID != userID {
			return ErrUnauthorized
		}
	} else {
		handle, _ = e.store.ActiveAlertForUser(userID)
	}

	payload := models.LocationUpdatePayload{UserID: userID, Location: *sanitized}
	if handle == nil {
		roster, err := e.directory.OnDuty(ctx)
		if err != nil {
			return nil
		}
		for _, responder := range roster {
			e.emitter.EmitToUser(responder.ID, models.EvtLocationUpdate, payload)
		}
		return nil
	}

	handle.Update(func(a *models.CrisisAlert) { a.Location = sanitized })
	snap := handle.Snapshot()
	payload.AlertID = snap.ID
	e.emitter.EmitToRoom(snap.RoomID, models.EvtLocationUpdate, payload, userID)
	return nil
}

// escalate moves an alert to escalated, queues the emergency-services
// handoff and alerts every responder regardless of availability.
func (e *Engine) escalate(ctx context.Context, handle *store.Alert, actingUserID string) {
	transitioned := handle.Transition(func(a *models.CrisisAlert) {
		a.Status = models.AlertEscalated
	}, models.AlertActive, models.AlertResponding)
	if !transitioned {
		return
	}

	snap := handle.Snapshot()
	now := e.now()
	observability.IncCrisisTransition(string(models.AlertEscalated))
	log.Printf("crisis alert escalated alert_id=%s severity=%s", snap.ID, snap.Severity)

	if e.notifier != nil {
		handoff := snap
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.notifier.Publish(pubCtx, rabbitmq.RouteEmergencyHandoff, handoff); err != nil {
				observability.IncAMQPPublishError()
			}
			intent := models.NotificationIntent{
				UserID:  handoff.UserID,
				Kind:    "crisis_escalation",
				AlertID: handoff.ID,
				SentAt:  now,
			}
			if err := e.notifier.Publish(pubCtx, rabbitmq.RouteCrisisEscalation, intent); err != nil {
				observability.IncAMQPPublishError()
			}
		}()
	}

	e.emitter.EmitToUser(snap.UserID, models.EvtEscalated, models.EscalatedPayload{
		AlertID:   snap.ID,
		Directive: stayOnlineDirective,
	})
	e.emitter.EmitToRoom(snap.RoomID, models.EvtStatusChanged, models.StatusChangedPayload{
		AlertID:   snap.ID,
		Status:    models.AlertEscalated,
		ChangedBy: actingUserID,
	}, "")
	e.broadcastToResponders(ctx, snap, "immediate", true)

	e.audit.RecordAlert(snap)
	e.audit.RecordCrisisEvent(snap.ID, "escalated", actingUserID, now)
}

// Resolve closes out an alert, freeing every assigned responder. The record
// stays queryable for a grace period before removal.
func (e *Engine) Resolve(ctx context.Context, alertID, resolvedBy string) error {
	handle, ok := e.store.Alert(alertID)
	if !ok {
		return ErrAlertNotFound
	}

	now := e.now()
	transitioned := handle.Transition(func(a *models.CrisisAlert) {
		a.Status = models.AlertResolved
		a.ResolvedAt = &now
		a.Location = nil
	}, models.AlertActive, models.AlertResponding, models.AlertEscalated)
	if !transitioned {
		return ErrBadTransition
	}

	snap := handle.Snapshot()
	observability.IncCrisisTransition(string(models.AlertResolved))
	for _, responderID := range snap.Responders {
		e.setAvailable(responderID, true)
	}

	duration := now.Sub(snap.TriggeredAt)
	e.emitter.EmitToRoom(snap.RoomID, models.EvtStatusChanged, models.StatusChangedPayload{
		AlertID:   alertID,
		Status:    models.AlertResolved,
		Message:   fmt.Sprintf("resolved after %s", duration.Round(time.Second)),
		ChangedBy: resolvedBy,
	}, "")

	e.audit.RecordAlert(snap)
	e.audit.RecordCrisisEvent(alertID, "resolved", resolvedBy, now)

	// Keep the record around for late status queries, then drop it.
	e.sched.Schedule(alertID, "grace-delete", e.grace, func() {
		e.store.RemoveAlert(alertID)
	})
	return nil
}

// EscalateOverdue is the auto-escalation monitor body: any alert still
// active with no responders past its severity threshold escalates. Runs on
// the monitor cadence; tests call it directly with an injected clock.
func (e *Engine) EscalateOverdue() int {
	now := e.now()
	escalated := 0
	for _, handle := range e.store.Alerts() {
		snap := handle.Snapshot()
		if snap.Status != models.AlertActive || len(snap.Responders) > 0 {
			continue
		}
		threshold, ok := e.thresholds[snap.Severity]
		if !ok {
			continue
		}
		if now.Sub(snap.TriggeredAt) >= threshold {
			e.escalate(context.Background(), handle, "system")
			escalated++
		}
	}
	return escalated
}

// StartMonitor runs the auto-escalation monitor until done closes.
func (e *Engine) StartMonitor(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.EscalateOverdue()
			}
		}
	}()
}

// ActiveAlerts returns snapshots of every non-resolved alert, for the
// responder read-side.
func (e *Engine) ActiveAlerts() []models.CrisisAlert {
	var out []models.CrisisAlert
	for _, handle := range e.store.Alerts() {
		snap := handle.Snapshot()
		if snap.Status == models.AlertResolved {
			continue
		}
		out = append(out, snap)
	}
	return out
}
