package session

import (
	"sync"
	"time"
)

// Session records an active reservation of time units. The reserved units
// were deducted from the account balance when the session started and come
// back (wholly or partially) only when it ends.
type Session struct {
	StartedAt time.Time `json:"started_at"`
	Reserved  uint64    `json:"reserved"`
	Active    bool      `json:"active"`
}

// Tracker holds at most one active session per account. The exchange
// engine owns the state machine; the tracker is plain storage.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewTracker creates an empty session tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]Session),
	}
}

// Get returns the session record for an account, if one exists.
func (t *Tracker) Get(account string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[account]
	return s, ok
}

// Set stores the session record for an account.
func (t *Tracker) Set(account string, s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[account] = s
}

// Clear resets the account to idle.
func (t *Tracker) Clear(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, account)
}

// Snapshot returns a copy of all active sessions.
func (t *Tracker) Snapshot() map[string]Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Session, len(t.sessions))
	for k, v := range t.sessions {
		out[k] = v
	}
	return out
}
