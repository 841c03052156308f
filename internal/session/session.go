// Package session tracks short-lived operator state: which brand an
// operator is currently uploading or scheduling for. Sessions expire so
// an abandoned flow does not leak or surprise the operator days later.
package session

import (
	"sync"
	"time"
)

const defaultTTL = 15 * time.Minute

// Step is where the operator currently is in a flow.
type Step int

const (
	StepNone Step = iota
	StepUpload       // next photo is stored for the selected brand
	StepScheduleTime // next HH:MM message adds a schedule entry
)

type Session struct {
	Business string
	Step     Step
	touched  time.Time
}

// Store is an in-memory session table keyed by operator id.
type Store struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	byID map[int64]*Session
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		ttl:  ttl,
		now:  time.Now,
		byID: map[int64]*Session{},
	}
}

// Begin starts (or replaces) the operator's session.
func (s *Store) Begin(operatorID int64, business string, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[operatorID] = &Session{Business: business, Step: step, touched: s.now()}
}

// Get returns the operator's live session, refreshing its expiry.
// Expired sessions are dropped and reported as absent.
func (s *Store) Get(operatorID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[operatorID]
	if !ok {
		return Session{}, false
	}
	if s.now().Sub(sess.touched) > s.ttl {
		delete(s.byID, operatorID)
		return Session{}, false
	}
	sess.touched = s.now()
	return *sess, true
}

// End removes the operator's session.
func (s *Store) End(operatorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, operatorID)
}

// Sweep drops all expired sessions. Call it periodically.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.byID {
		if now.Sub(sess.touched) > s.ttl {
			delete(s.byID, id)
			removed++
		}
	}
	return removed
}
