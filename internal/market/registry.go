package market

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Registry is the arena store for markets: an RWMutex-protected slot-map
// of pointers keyed by MarketID. The registry's own lock only ever
// protects the map structure; once a *Market pointer is retrieved,
// callers lock the Market itself, never the registry, for the duration of
// a trade.
type Registry struct {
	mu      sync.RWMutex
	markets map[types.MarketID]*Market
	seq     uint64
}

// NewRegistry creates an empty market registry.
func NewRegistry() *Registry {
	return &Registry{markets: make(map[types.MarketID]*Market)}
}

// NextID generates a monotonically increasing market ID local to this
// registry. IDs are unique only within one registry.
func (r *Registry) NextID() types.MarketID {
	n := atomic.AddUint64(&r.seq, 1)
	return types.MarketID(fmt.Sprintf("m-%d", n))
}

// Insert adds a newly constructed market to the registry.
func (r *Registry) Insert(m *Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.ID] = m
}

// Get returns the market pointer for id, or false if it doesn't exist.
// The returned pointer is stable for the registry's lifetime — callers
// lock the Market directly rather than re-querying the registry per
// operation.
func (r *Registry) Get(id types.MarketID) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	return m, ok
}

// MustGet returns the market or a wrapped ErrInvalidInput if it doesn't
// exist — used by operations where a missing market is a caller error
// rather than an expected "not found" branch.
func (r *Registry) MustGet(id types.MarketID) (*Market, error) {
	m, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, errs.ErrInvalidInput)
	}
	return m, nil
}

// All returns a snapshot slice of every market pointer currently
// registered, for iteration by the liquidation monitor and solvency
// breakers. The slice is a copy of the map's values; the markets
// themselves are not locked by this call.
func (r *Registry) All() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// WithMarket locks m for the duration of fn, enforcing the market-before-
// global lock ordering documented in §5: fn may safely lock a
// GlobalConfig inside its body, but must never acquire a different
// market's lock (cross-market ordering is undefined and would risk
// deadlock).
func WithMarket(m *Market, fn func(*Market) error) error {
	m.Lock()
	defer m.Unlock()
	return fn(m)
}

// WithMarketRead is WithMarket's reader-lock counterpart for quotes,
// snapshots, and book-depth queries that don't mutate state.
func WithMarketRead(m *Market, fn func(*Market) error) error {
	m.RLock()
	defer m.RUnlock()
	return fn(m)
}
