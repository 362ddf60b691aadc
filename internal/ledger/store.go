package ledger

import (
	"sync"
)

// Store keeps the two balance tables of the exchange: resource-unit
// balances and settlement-credit balances, both keyed by account ID.
// Entries are created lazily; an absent account reads as zero.
//
// The store performs no validation. The exchange engine is the only
// writer and checks every invariant before mutating.
type Store struct {
	mu       sync.RWMutex
	balances map[string]uint64
	credits  map[string]uint64
}

// NewStore creates an empty ledger store.
func NewStore() *Store {
	return &Store{
		balances: make(map[string]uint64),
		credits:  make(map[string]uint64),
	}
}

// Balance returns the resource-unit balance for an account.
func (s *Store) Balance(account string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account]
}

// SetBalance overwrites the resource-unit balance for an account.
func (s *Store) SetBalance(account string, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = v
}

// Credit returns the settlement-credit balance for an account.
func (s *Store) Credit(account string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits[account]
}

// SetCredit overwrites the settlement-credit balance for an account.
func (s *Store) SetCredit(account string, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[account] = v
}

// Snapshot returns copies of both balance tables.
func (s *Store) Snapshot() (balances, credits map[string]uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balances = make(map[string]uint64, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	credits = make(map[string]uint64, len(s.credits))
	for k, v := range s.credits {
		credits[k] = v
	}
	return balances, credits
}
