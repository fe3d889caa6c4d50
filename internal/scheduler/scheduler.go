package scheduler

import (
	"sync"
	"time"
)

type key struct {
	entityID string
	purpose  string
}

// Scheduler owns one-shot timers keyed by (entityID, purpose). Scheduling the
// same key again supersedes the previous timer, which makes resets (a new
// typing signal, a responder acceptance) deterministic.
type Scheduler struct {
	mu     sync.Mutex
	timers map[key]*time.Timer
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[key]*time.Timer)}
}

// Schedule runs fn after d, replacing any pending timer for the same key.
func (s *Scheduler) Schedule(entityID, purpose string, d time.Duration, fn func()) {
	k := key{entityID: entityID, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[k]; ok {
		t.Stop()
	}
	s.timers[k] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, k)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending timer. It reports whether one was pending.
func (s *Scheduler) Cancel(entityID, purpose string) bool {
	k := key{entityID: entityID, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[k]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, k)
	return true
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}

// Pending reports whether a timer for the key is waiting to fire.
func (s *Scheduler) Pending(entityID, purpose string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[key{entityID: entityID, purpose: purpose}]
	return ok
}
