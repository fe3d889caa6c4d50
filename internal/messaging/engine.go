package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"crisis-comms/internal/models"
	"crisis-comms/internal/observability"
	"crisis-comms/internal/rabbitmq"
	"crisis-comms/internal/repositories"
	"crisis-comms/internal/scheduler"
	"crisis-comms/internal/seal"
	"crisis-comms/internal/store"
	"crisis-comms/internal/telemetry"
)

const (
	maxContentLength  = 5000
	maxAttachmentSize = 10 << 20 // 10 MiB
)

var (
	ErrRoomNotFound = store.ErrRoomNotFound
	ErrUnauthorized = errors.New("not a room participant")
	ErrNotSender    = errors.New("only the original sender may do that")
)

// ValidationError rejects a payload that violates size or shape constraints.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Emitter is what the engine needs from the connection manager. *ws.Hub
// satisfies it; tests use an in-memory fake.
type Emitter interface {
	EmitToUser(userID, event string, payload any) bool
	EmitPerConnection(userID, event string, build func(connKey []byte) any) bool
	EmitToRoom(roomID, event string, payload any, excludeUserID string)
	Online(userID string) bool
}

// Engine is the room-scoped messaging engine: message exchange, delivery
// tracking, typing indicators, offline handling and retention.
type Engine struct {
	store    *store.Store
	emitter  Emitter
	repo     repositories.MessageRepository
	audit    *telemetry.AuditTrail
	notifier rabbitmq.Publisher
	sched    *scheduler.Scheduler

	typingTTL time.Duration
	retention time.Duration
	now       func() time.Time

	typingMu sync.Mutex
	typing   map[string]map[string]bool // roomID -> userID -> typing
}

// NewEngine wires the messaging engine.
func NewEngine(st *store.Store, emitter Emitter, repo repositories.MessageRepository, audit *telemetry.AuditTrail, notifier rabbitmq.Publisher, sched *scheduler.Scheduler, typingTTL, retention time.Duration) *Engine {
	return &Engine{
		store:     st,
		emitter:   emitter,
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		sched:     sched,
		typingTTL: typingTTL,
		retention: retention,
		now:       time.Now,
		typing:    make(map[string]map[string]bool),
	}
}

// Join adds the user to a room, creating it lazily on first join, then
// drains the user's offline queue for that room. Returns the room snapshot
// that the connection manager hands back to the client.
func (e *Engine) Join(userID, displayName string, role models.Role, roomID string, kind models.RoomKind, meta models.RoomMetadata) (models.RoomSnapshot, error) {
	if !kind.Valid() {
		return models.RoomSnapshot{}, &ValidationError{Reason: fmt.Sprintf("unknown room kind %q", kind)}
	}

	now := e.now()
	encrypted := kind == models.RoomTherapy || meta.Encrypted
	var key []byte
	if encrypted {
		var err error
		key, err = seal.NewKey()
		if err != nil {
			return models.RoomSnapshot{}, fmt.Errorf("establish room key: %w", err)
		}
	}

	room, created := e.store.GetOrCreateRoom(roomID, kind, encrypted, key, now)
	if created {
		log.Printf("room created room_id=%s kind=%s encrypted=%t", roomID, kind, room.Encrypted)
	}

	room.Join(models.Participant{
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		JoinedAt:    now,
		LastSeen:    now,
		Online:      true,
	})

	e.emitter.EmitToRoom(roomID, models.EvtUserJoined, models.PresencePayload{
		RoomID: roomID,
		UserID: userID,
		Online: true,
	}, userID)

	e.drainQueue(userID, room)
	return room.Snapshot(), nil
}

// drainQueue delivers the user's queued messages for this room, in their
// original order, exactly once.
func (e *Engine) drainQueue(userID string, room *store.Room) {
	drained := e.store.DrainQueue(userID, room.ID)
	if len(drained) == 0 {
		return
	}

	for i := range drained {
		drained[i].Status = drained[i].Status.Advance(models.StatusDelivered)
		if updated, err := room.UpdateMessage(drained[i].ID, func(m *models.Message) {
			m.Status = m.Status.Advance(models.StatusDelivered)
		}); err == nil {
			e.emitter.EmitToUser(updated.SenderID, models.EvtMessageDelivered, models.DeliveredPayload{
				MessageID: updated.ID,
				RoomID:    room.ID,
				UserID:    userID,
			})
		}
	}

	if room.Encrypted {
		e.emitter.EmitPerConnection(userID, models.EvtQueuedMessages, func(connKey []byte) any {
			resealed := make([]models.Message, len(drained))
			copy(resealed, drained)
			for i := range resealed {
				sealed, err := seal.Reseal(room.Key, connKey, resealed[i].Content)
				if err != nil {
					sealed = ""
					resealed[i].Encrypted = false
					resealed[i].Content = seal.Placeholder
					continue
				}
				resealed[i].Content = sealed
			}
			return models.QueuedMessagesPayload{RoomID: room.ID, Messages: resealed}
		})
	} else {
		e.emitter.EmitToUser(userID, models.EvtQueuedMessages, models.QueuedMessagesPayload{
			RoomID:   room.ID,
			Messages: drained,
		})
	}

	observability.SetOfflineQueueDepth(e.store.QueueDepth())
}

// Leave removes the user's room membership and applies the empty-room
// cleanup policy.
func (e *Engine) Leave(userID, roomID string) error {
	room, ok := e.store.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	room.Remove(userID)
	e.emitter.EmitToRoom(roomID, models.EvtUserLeft, models.PresencePayload{
		RoomID: roomID,
		UserID: userID,
		Online: false,
	}, userID)

	e.clearTyping(roomID, userID, false)
	if e.store.RemoveRoomIfEmpty(roomID) {
		log.Printf("room removed room_id=%s", roomID)
	}
	return nil
}

// MarkOffline flips the participant's presence in each of the given rooms.
// Called by the connection manager when a user's last connection closes.
func (e *Engine) MarkOffline(userID string, roomIDs []string) {
	now := e.now()
	for _, roomID := range roomIDs {
		room, ok := e.store.Room(roomID)
		if !ok {
			continue
		}
		if room.SetOnline(userID, false, now) {
			e.emitter.EmitToRoom(roomID, models.EvtPresenceChanged, models.PresencePayload{
				RoomID: roomID,
				UserID: userID,
				Online: false,
			}, userID)
		}
		e.clearTyping(roomID, userID, true)
	}
}

// Send validates, stores and fans out a message. Storage always holds
// ciphertext for encryption-enabled rooms; delivery reseals per recipient
// connection.
func (e *Engine) Send(senderID, roomID, content string, kind models.MessageKind, replyTo string, attachments []models.Attachment) (models.Message, error) {
	room, ok := e.store.Room(roomID)
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	if !room.HasParticipant(senderID) {
		return models.Message{}, ErrUnauthorized
	}

	if utf8.RuneCountInString(content) > maxContentLength {
		return models.Message{}, &ValidationError{Reason: fmt.Sprintf("content exceeds %d characters", maxContentLength)}
	}
	for _, att := range attachments {
		if att.Size > maxAttachmentSize {
			return models.Message{}, &ValidationError{Reason: fmt.Sprintf("attachment %s exceeds 10 MiB", att.Name)}
		}
	}
	if kind == "" {
		kind = models.MessageText
	}

	now := e.now()
	msg := models.Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		Encrypted:   room.Encrypted,
		Kind:        kind,
		Status:      models.StatusSending,
		ReplyTo:     replyTo,
		Attachments: attachments,
		CreatedAt:   now,
	}
	if room.Encrypted {
		sealed, err := seal.Seal(room.Key, content)
		if err != nil {
			return models.Message{}, fmt.Errorf("seal message: %w", err)
		}
		msg.Content = sealed
	}

	msg.Status = models.StatusSent
	room.Sequence(func() {
		room.Append(msg)
		e.fanOut(room, msg)
	})
	observability.IncMessage(string(room.Kind))

	e.persist(room.Kind, msg)

	stored, _ := room.Message(msg.ID)
	return stored, nil
}

// persist mirrors the message to the durability collaborator without
// blocking the live path. Therapy rooms additionally get the structured
// audit record (never content).
func (e *Engine) persist(kind models.RoomKind, msg models.Message) {
	if e.repo != nil {
		saved := msg
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.repo.SaveMessage(ctx, kind, saved); err != nil {
				log.Printf("message persist failed message_id=%s: %v", saved.ID, err)
			}
		}()
	}
	if kind == models.RoomTherapy {
		e.audit.RecordTherapyMessage(msg, e.now())
	}
}

// fanOut delivers to every other participant: immediately when online,
// into the offline queue otherwise.
func (e *Engine) fanOut(room *store.Room, msg models.Message) {
	for _, participantID := range room.ParticipantIDs() {
		if participantID == msg.SenderID {
			continue
		}

		if !e.emitter.Online(participantID) {
			e.store.Enqueue(participantID, msg)
			e.notifyQueued(participantID, msg)
			continue
		}

		delivered := e.deliver(room, participantID, models.EvtNewMessage, msg)
		if !delivered {
			e.store.Enqueue(participantID, msg)
			e.notifyQueued(participantID, msg)
			continue
		}

		if updated, err := room.UpdateMessage(msg.ID, func(m *models.Message) {
			m.Status = m.Status.Advance(models.StatusDelivered)
		}); err == nil {
			e.emitter.EmitToUser(msg.SenderID, models.EvtMessageDelivered, models.DeliveredPayload{
				MessageID: updated.ID,
				RoomID:    room.ID,
				UserID:    participantID,
			})
		}
	}
	observability.SetOfflineQueueDepth(e.store.QueueDepth())
}

// deliver sends one message to one recipient, resealing per connection for
// encrypted rooms. A reseal failure degrades that copy to the placeholder
// instead of aborting delivery to anyone else.
func (e *Engine) deliver(room *store.Room, userID, event string, msg models.Message) bool {
	if !room.Encrypted {
		return e.emitter.EmitToUser(userID, event, msg)
	}
	return e.emitter.EmitPerConnection(userID, event, func(connKey []byte) any {
		out := msg
		sealed, err := seal.Reseal(room.Key, connKey, msg.Content)
		if err != nil {
			out.Encrypted = false
			out.Content = seal.Placeholder
			return out
		}
		out.Content = sealed
		return out
	})
}

func (e *Engine) notifyQueued(userID string, msg models.Message) {
	if e.notifier == nil {
		return
	}
	intent := models.NotificationIntent{
		UserID: userID,
		Kind:   "queued_message",
		RoomID: msg.RoomID,
		SentAt: e.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.Publish(ctx, rabbitmq.RouteQueuedMessage, intent); err != nil {
			observability.IncAMQPPublishError()
		}
	}()
}

// Edit lets the original sender change a message's content.
func (e *Engine) Edit(userID, roomID, messageID, newContent string) (models.Message, error) {
	room, ok := e.store.Room(roomID)
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	if !room.HasParticipant(userID) {
		return models.Message{}, ErrUnauthorized
	}
	if utf8.RuneCountInString(newContent) > maxContentLength {
		return models.Message{}, &ValidationError{Reason: fmt.Sprintf("content exceeds %d characters", maxContentLength)}
	}

	existing, ok := room.Message(messageID)
	if !ok {
		return models.Message{}, store.ErrMessageNotFound
	}
	if existing.SenderID != userID {
		return models.Message{}, ErrNotSender
	}

	content := newContent
	if room.Encrypted {
		sealed, err := seal.Seal(room.Key, newContent)
		if err != nil {
			return models.Message{}, fmt.Errorf("seal message: %w", err)
		}
		content = sealed
	}

	now := e.now()
	updated, err := room.UpdateMessage(messageID, func(m *models.Message) {
		m.Content = content
		m.Edited = true
		m.EditedAt = &now
	})
	if err != nil {
		return models.Message{}, err
	}

	e.persist(room.Kind, updated)
	e.broadcastMessage(room, models.EvtMessageEdited, updated, "")
	return updated, nil
}

// Delete removes a message from the live sequence. Only the sender or an
// admin may delete; audit-bound durable logs are not touched.
func (e *Engine) Delete(userID string, role models.Role, roomID, messageID string) error {
	room, ok := e.store.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	if !room.HasParticipant(userID) && role != models.RoleAdmin {
		return ErrUnauthorized
	}

	existing, ok := room.Message(messageID)
	if !ok {
		return store.ErrMessageNotFound
	}
	if existing.SenderID != userID && role != models.RoleAdmin {
		return ErrNotSender
	}

	room.DeleteMessage(messageID)
	e.emitter.EmitToRoom(roomID, models.EvtMessageDeleted, models.MessageDeletedPayload{
		RoomID:    roomID,
		MessageID: messageID,
		DeletedBy: userID,
	}, "")
	return nil
}

// broadcastMessage sends a message-bearing event to every participant,
// resealing per recipient in encrypted rooms.
func (e *Engine) broadcastMessage(room *store.Room, event string, msg models.Message, exclude string) {
	if !room.Encrypted {
		e.emitter.EmitToRoom(room.ID, event, msg, exclude)
		return
	}
	for _, participantID := range room.ParticipantIDs() {
		if participantID == exclude {
			continue
		}
		e.deliver(room, participantID, event, msg)
	}
}

// SetTyping updates the per-room typing set and broadcasts the change. An
// entry auto-clears after the TTL even without an explicit stop signal; a
// fresh signal resets the timer.
func (e *Engine) SetTyping(userID, roomID string, isTyping bool) error {
	room, ok := e.store.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	if !room.HasParticipant(userID) {
		return ErrUnauthorized
	}

	if !isTyping {
		e.clearTyping(roomID, userID, true)
		return nil
	}

	e.typingMu.Lock()
	if e.typing[roomID] == nil {
		e.typing[roomID] = make(map[string]bool)
	}
	changed := !e.typing[roomID][userID]
	e.typing[roomID][userID] = true
	e.typingMu.Unlock()

	e.sched.Schedule(roomID+"/"+userID, "typing", e.typingTTL, func() {
		e.clearTyping(roomID, userID, true)
	})

	if changed {
		e.emitter.EmitToRoom(roomID, models.EvtTyping, models.TypingPayload{
			RoomID:   roomID,
			UserID:   userID,
			IsTyping: true,
		}, userID)
	}
	return nil
}

func (e *Engine) clearTyping(roomID, userID string, broadcast bool) {
	e.typingMu.Lock()
	wasTyping := e.typing[roomID][userID]
	if wasTyping {
		delete(e.typing[roomID], userID)
		if len(e.typing[roomID]) == 0 {
			delete(e.typing, roomID)
		}
	}
	e.typingMu.Unlock()

	e.sched.Cancel(roomID+"/"+userID, "typing")
	if wasTyping && broadcast {
		e.emitter.EmitToRoom(roomID, models.EvtTyping, models.TypingPayload{
			RoomID:   roomID,
			UserID:   userID,
			IsTyping: false,
		}, userID)
	}
}

// Typing returns the users currently typing in a room.
func (e *Engine) Typing(roomID string) []string {
	e.typingMu.Lock()
	defer e.typingMu.Unlock()

	out := make([]string, 0, len(e.typing[roomID]))
	for userID := range e.typing[roomID] {
		out = append(out, userID)
	}
	return out
}

// MarkRead appends a read receipt, advances the message status and notifies
// the sender. Reading your own message is a no-op notification-wise.
func (e *Engine) MarkRead(userID, roomID, messageID string) error {
	room, ok := e.store.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	if !room.HasParticipant(userID) {
		return ErrUnauthorized
	}

	existing, ok := room.Message(messageID)
	if !ok {
		return store.ErrMessageNotFound
	}

	now := e.now()
	room.AddReceipt(models.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: now})
	updated, err := room.UpdateMessage(messageID, func(m *models.Message) {
		m.Status = m.Status.Advance(models.StatusRead)
	})
	if err != nil {
		return err
	}

	if existing.SenderID != userID {
		e.emitter.EmitToUser(updated.SenderID, models.EvtMessageRead, models.ReadPayload{
			MessageID: messageID,
			RoomID:    roomID,
			UserID:    userID,
			ReadAt:    now,
		})
	}
	return nil
}

// SweepRetention purges messages older than the retention window from
// non-therapy rooms and prunes old read receipts everywhere. Offline queues
// follow the same window.
func (e *Engine) SweepRetention() {
	cutoff := e.now().Add(-e.retention)
	purged := 0
	for _, room := range e.store.Rooms() {
		if room.Kind != models.RoomTherapy {
			purged += room.PurgeBefore(cutoff)
		}
		room.PruneReceiptsBefore(cutoff)
	}
	purged += e.store.PurgeQueuesBefore(cutoff)
	if purged > 0 {
		log.Printf("retention sweep purged=%d cutoff=%s", purged, cutoff.Format(time.RFC3339))
	}
	observability.SetOfflineQueueDepth(e.store.QueueDepth())
}

// StartRetention runs the retention sweep on its cadence until done closes.
func (e *Engine) StartRetention(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.SweepRetention()
			}
		}
	}()
}
