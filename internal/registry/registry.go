package registry

import (
	"sync"
)

// Listing is an offer to sell a quantity of time units at a per-unit tariff.
// A listing with zero intervals does not exist.
type Listing struct {
	Intervals uint64 `json:"intervals"`
	Tariff    uint64 `json:"tariff"`
}

// Registry holds at most one listing per account. The exchange engine is
// the only writer and validates preconditions before every mutation.
type Registry struct {
	mu       sync.RWMutex
	listings map[string]Listing
}

// NewRegistry creates an empty marketplace registry.
func NewRegistry() *Registry {
	return &Registry{
		listings: make(map[string]Listing),
	}
}

// Get returns the listing for an account, if one exists.
func (r *Registry) Get(account string) (Listing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[account]
	return l, ok
}

// Merge adds intervals into the account's listing. The tariff overwrites
// any previously declared tariff; an account has one tariff at a time.
func (r *Registry) Merge(account string, intervals, tariff uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.listings[account]
	l.Intervals += intervals
	l.Tariff = tariff
	r.listings[account] = l
}

// Consume removes intervals from the account's listing after an
// acquisition. The listing disappears when it reaches zero.
func (r *Registry) Consume(account string, intervals uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.listings[account]
	if !ok || l.Intervals < intervals {
		delete(r.listings, account)
		return
	}
	l.Intervals -= intervals
	if l.Intervals == 0 {
		delete(r.listings, account)
		return
	}
	r.listings[account] = l
}

// Remove deletes the account's listing entirely.
func (r *Registry) Remove(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listings, account)
}

// Snapshot returns a copy of all active listings.
func (r *Registry) Snapshot() map[string]Listing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Listing, len(r.listings))
	for k, v := range r.listings {
		out[k] = v
	}
	return out
}
