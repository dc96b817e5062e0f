package booking

import (
	"sync"
	"time"
)

// Store keeps one flow per user email.
type Store struct {
	fsm     *FSM
	flows   map[string]*Flow
	mu      sync.RWMutex
	timeout time.Duration
}

// NewStore creates a flow store. Flows untouched for longer than timeout are
// replaced on access and removed by Cleanup.
func NewStore(timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Store{
		fsm:     NewFSM(),
		flows:   make(map[string]*Flow),
		timeout: timeout,
	}
}

// Get returns the flow for email or nil.
func (s *Store) Get(email string) *Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flows[email]
}

// GetOrCreate returns the live flow for email, creating an idle one if needed.
// The second result reports whether the flow was created.
func (s *Store) GetOrCreate(email string) (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[email]
	if ok && !flow.IsExpired(s.timeout) {
		return flow, false
	}

	flow = NewFlow(s.fsm, nil)
	s.flows[email] = flow
	return flow, true
}

// Delete removes a flow.
func (s *Store) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, email)
}

// Cleanup removes expired flows.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for email, flow := range s.flows {
		if flow.IsExpired(s.timeout) {
			delete(s.flows, email)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked flows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}
