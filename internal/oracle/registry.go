package oracle

import (
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Registry owns every market's Record, keyed by MarketID — the arena
// storage discipline of §9 applied to oracle state the same way
// internal/market.Registry owns Market pointers.
type Registry struct {
	mu      sync.RWMutex
	records map[types.MarketID]*Record
}

// NewRegistry constructs an empty oracle registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[types.MarketID]*Record)}
}

// Insert attaches a new Record at market creation.
func (r *Registry) Insert(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.MarketID] = rec
}

// Get returns a market's oracle record.
func (r *Registry) Get(marketID types.MarketID) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[marketID]
	return rec, ok
}

// MustGet returns a market's oracle record or a wrapped ErrInvalidInput.
func (r *Registry) MustGet(marketID types.MarketID) (*Record, error) {
	rec, ok := r.Get(marketID)
	if !ok {
		return nil, fmt.Errorf("oracle registry %s: %w", marketID, errs.ErrInvalidInput)
	}
	return rec, nil
}
