package params

import (
	"sync"
)

// Parameters holds the economic constants of the exchange.
type Parameters struct {
	Tariff              uint64 `json:"tariff"`               // credits per time unit
	AccountCeiling      uint64 `json:"account_ceiling"`      // max units a single account may hold
	FeePercent          uint64 `json:"fee_percent"`          // marketplace commission, 0-20
	CompensationPercent uint64 `json:"compensation_percent"` // early departure payout rate, 0-100
	GlobalCap           uint64 `json:"global_cap"`           // max units in circulation
}

// Store holds the parameter set, the global allocation counter, the fixed
// operator identity and the operational halt flag. Written only by the
// governor; read by everything else.
type Store struct {
	mu        sync.RWMutex
	params    Parameters
	allocated uint64
	operator  string
	halted    bool
}

// NewStore creates a parameter store with the genesis parameter set.
// The operator identity is fixed for the lifetime of the store.
func NewStore(operator string, p Parameters) *Store {
	return &Store{
		params:   p,
		operator: operator,
	}
}

// Snapshot returns a copy of the current parameter set.
func (s *Store) Snapshot() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Update applies fn to the parameter set under the write lock.
func (s *Store) Update(fn func(*Parameters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.params)
}

// Operator returns the fixed operator account.
func (s *Store) Operator() string {
	return s.operator
}

// Allocated returns the number of units currently in circulation.
func (s *Store) Allocated() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocated
}

// SetAllocated overwrites the allocation counter. Callers must have
// validated the global cap already.
func (s *Store) SetAllocated(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated = v
}

// Halted reports whether the exchange is operationally suspended.
func (s *Store) Halted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted
}

// SetHalted toggles the operational flag.
func (s *Store) SetHalted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = v
}
