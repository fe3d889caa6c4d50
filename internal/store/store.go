package store

import (
	"errors"
	"sync"
	"time"

	"crisis-comms/internal/models"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrAlertNotFound = errors.New("alert not found")
)

// Store owns the shared room, alert and offline-queue state. Engines receive
// a Store at construction time; nothing global. The store's own locks guard
// only the indexes; row-level mutation goes through each Room/Alert lock.
type Store struct {
	roomMu sync.RWMutex
	rooms  map[string]*Room

	alertMu sync.RWMutex
	alerts  map[string]*Alert

	queueMu sync.Mutex
	offline map[string][]models.Message
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:   make(map[string]*Room),
		alerts:  make(map[string]*Alert),
		offline: make(map[string][]models.Message),
	}
}

// Room looks up a room by id.
func (s *Store) Room(id string) (*Room, bool) {
	s.roomMu.RLock()
	defer s.roomMu.RUnlock()

	room, ok := s.rooms[id]
	return room, ok
}

// GetOrCreateRoom returns the room, creating it lazily on first join. The
// second result reports whether the room was created by this call.
func (s *Store) GetOrCreateRoom(id string, kind models.RoomKind, encrypted bool, key []byte, now time.Time) (*Room, bool) {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	if room, ok := s.rooms[id]; ok {
		return room, false
	}
	room := newRoom(id, kind, encrypted, key, now)
	s.rooms[id] = room
	return room, true
}

// RemoveRoomIfEmpty deletes a room once its last participant leaves, unless
// the room kind is retained for compliance.
func (s *Store) RemoveRoomIfEmpty(id string) bool {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return false
	}
	if room.Kind.Retained() {
		return false
	}
	room.mu.Lock()
	empty := len(room.participants) == 0
	room.mu.Unlock()
	if !empty {
		return false
	}
	delete(s.rooms, id)
	return true
}

// Rooms returns the current room set.
func (s *Store) Rooms() []*Room {
	s.roomMu.RLock()
	defer s.roomMu.RUnlock()

	out := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// RoomsForUser returns rooms the user currently participates in.
func (s *Store) RoomsForUser(userID string) []*Room {
	var out []*Room
	for _, room := range s.Rooms() {
		if room.HasParticipant(userID) {
			out = append(out, room)
		}
	}
	return out
}

// Enqueue appends a message to a user's offline queue.
func (s *Store) Enqueue(userID string, msg models.Message) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	s.offline[userID] = append(s.offline[userID], msg)
}

// DrainQueue removes and returns the queued messages for one room, in their
// original order. Entries for other rooms stay queued.
func (s *Store) DrainQueue(userID, roomID string) []models.Message {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queued := s.offline[userID]
	if len(queued) == 0 {
		return nil
	}

	var drained []models.Message
	kept := queued[:0]
	for _, msg := range queued {
		if msg.RoomID == roomID {
			drained = append(drained, msg)
			continue
		}
		kept = append(kept, msg)
	}
	if len(kept) == 0 {
		delete(s.offline, userID)
	} else {
		s.offline[userID] = kept
	}
	return drained
}

// QueuedFor returns a copy of the user's queued messages for a room without
// draining them.
func (s *Store) QueuedFor(userID, roomID string) []models.Message {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	var out []models.Message
	for _, msg := range s.offline[userID] {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	return out
}

// PurgeQueuesBefore drops queued messages older than the cutoff, mirroring
// the room retention sweep.
func (s *Store) PurgeQueuesBefore(cutoff time.Time) int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	removed := 0
	for userID, queued := range s.offline {
		kept := queued[:0]
		for _, msg := range queued {
			if msg.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(s.offline, userID)
			continue
		}
		s.offline[userID] = kept
	}
	return removed
}

// QueueDepth reports the total number of queued messages across users.
func (s *Store) QueueDepth() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	total := 0
	for _, queued := range s.offline {
		total += len(queued)
	}
	return total
}
