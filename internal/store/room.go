package store

import (
	"errors"
	"sync"
	"time"

	"crisis-comms/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
)

// Room is the mutable state of one conversation. All access goes through its
// methods; each method takes the room's own lock so unrelated rooms never
// contend with each other.
type Room struct {
	ID        string
	Kind      models.RoomKind
	Encrypted bool
	Key       []byte
	CreatedAt time.Time

	// sendMu serializes the append and fan-out of each message so delivery
	// to any online recipient follows stored order. Separate from the data
	// lock: code holding it may still call other Room methods.
	sendMu sync.Mutex

	mu           sync.Mutex
	lastActivity time.Time
	participants map[string]*models.Participant
	messages     []models.Message
	receipts     map[string][]models.ReadReceipt
}

func newRoom(id string, kind models.RoomKind, encrypted bool, key []byte, now time.Time) *Room {
	return &Room{
		ID:           id,
		Kind:         kind,
		Encrypted:    encrypted,
		Key:          key,
		CreatedAt:    now,
		lastActivity: now,
		participants: make(map[string]*models.Participant),
		receipts:     make(map[string][]models.ReadReceipt),
	}
}

// Join adds or refreshes a participant and marks them online.
func (r *Room) Join(p models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.participants[p.UserID]
	if !ok {
		copied := p
		r.participants[p.UserID] = &copied
	} else {
		existing.Online = true
		existing.LastSeen = p.LastSeen
		if p.DisplayName != "" {
			existing.DisplayName = p.DisplayName
		}
	}
	r.lastActivity = p.JoinedAt
}

// Remove drops a participant entirely. It reports whether the room is empty
// afterwards.
func (r *Room) Remove(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants, userID)
	return len(r.participants) == 0
}

// SetOnline flips a participant's presence flag.
func (r *Room) SetOnline(userID string, online bool, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userID]
	if !ok {
		return false
	}
	p.Online = online
	p.LastSeen = at
	return true
}

// HasParticipant reports room membership for a user.
func (r *Room) HasParticipant(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.participants[userID]
	return ok
}

// ParticipantIDs returns the current membership.
func (r *Room) ParticipantIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}

// Append stores a message and bumps room activity.
func (r *Room) Append(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
	r.lastActivity = msg.CreatedAt
}

// Sequence runs fn under the room's send lock.
func (r *Room) Sequence(fn func()) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	fn()
}

// Message returns a copy of a stored message.
func (r *Room) Message(messageID string) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.messages {
		if r.messages[i].ID == messageID {
			return r.messages[i], true
		}
	}
	return models.Message{}, false
}

// UpdateMessage applies fn to a stored message under the room lock.
func (r *Room) UpdateMessage(messageID string, fn func(*models.Message)) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.messages {
		if r.messages[i].ID == messageID {
			fn(&r.messages[i])
			return r.messages[i], nil
		}
	}
	return models.Message{}, ErrMessageNotFound
}

// DeleteMessage removes a message from the live sequence. Durable logs kept
// by the persistence layer are unaffected.
func (r *Room) DeleteMessage(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.messages {
		if r.messages[i].ID == messageID {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			delete(r.receipts, messageID)
			return true
		}
	}
	return false
}

// Messages returns a copy of the room's message sequence.
func (r *Room) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// AddReceipt appends a read receipt for a message.
func (r *Room) AddReceipt(receipt models.ReadReceipt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.receipts[receipt.MessageID] = append(r.receipts[receipt.MessageID], receipt)
}

// Receipts returns the receipts recorded for a message.
func (r *Room) Receipts(messageID string) []models.ReadReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ReadReceipt, len(r.receipts[messageID]))
	copy(out, r.receipts[messageID])
	return out
}

// PurgeBefore drops messages created before the cutoff. Returns the number
// removed.
func (r *Room) PurgeBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.messages[:0]
	removed := 0
	for _, msg := range r.messages {
		if msg.CreatedAt.Before(cutoff) {
			removed++
			delete(r.receipts, msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	r.messages = kept
	return removed
}

// PruneReceiptsBefore drops receipts older than the cutoff independently of
// their messages.
func (r *Room) PruneReceiptsBefore(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, receipts := range r.receipts {
		kept := receipts[:0]
		for _, receipt := range receipts {
			if !receipt.ReadAt.Before(cutoff) {
				kept = append(kept, receipt)
			}
		}
		if len(kept) == 0 {
			delete(r.receipts, id)
			continue
		}
		r.receipts[id] = kept
	}
}

// Touch bumps the room's last activity.
func (r *Room) Touch(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = at
}

// Snapshot produces the read-only view returned on join and over REST.
func (r *Room) Snapshot() models.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, *p)
	}
	return models.RoomSnapshot{
		RoomID:       r.ID,
		Kind:         r.Kind,
		Encrypted:    r.Encrypted,
		Participants: participants,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.lastActivity,
	}
}
