// Package orderbook holds the per-market limit/stop book and the advanced
// order types layered over it: iceberg, TWAP, dark pool, and sealed-bid
// commit/reveal. Resting orders here never mutate AMM state directly.
// BestOpposing exposes the best resting order opposite a taker, but the
// engine's trade paths route straight to the AMM without consulting the
// book, so resting limits are not matched against incoming trades.
package orderbook

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Order is a resting limit or stop order. Market/iceberg/TWAP/dark orders
// are represented by their own types; this is the passive book entry.
type Order struct {
	ID          types.OrderID
	UserID      types.UserID
	MarketID    types.MarketID
	OutcomeIdx  int
	Side        types.Side
	Kind        types.OrderKind
	Status      types.OrderStatus
	TIF         types.TimeInForce
	LimitPrice  types.Bps // for OrderStop, the trigger price
	Size        fixedpoint.Fixed
	FilledSize  fixedpoint.Fixed
	CreatedSlot types.Slot
	Deadline    types.Slot // 0 means no deadline
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() fixedpoint.Fixed {
	r, err := o.Size.Sub(o.FilledSize)
	if err != nil {
		return fixedpoint.Zero
	}
	return r
}

// bookKey indexes resting orders by market, outcome, and side so a scan
// only ever walks orders that could actually cross (§4.6).
type bookKey struct {
	market     types.MarketID
	outcomeIdx int
	side       types.Side
}

// priceSlotHeap orders entries by (price, creation slot): for bids, higher
// price and earlier slot sort first; for asks, lower price and earlier
// slot sort first. The heap stores order IDs only, never pointers, so a
// cancelled order can be dropped lazily on pop (arena-index discipline,
// mirrored from the market/position stores).
type priceSlotHeap struct {
	ids    []types.OrderID
	lookup map[types.OrderID]*Order
	isBid  bool
}

func (h *priceSlotHeap) Len() int { return len(h.ids) }

func (h *priceSlotHeap) Less(i, j int) bool {
	a, b := h.lookup[h.ids[i]], h.lookup[h.ids[j]]
	if a.LimitPrice != b.LimitPrice {
		if h.isBid {
			return a.LimitPrice > b.LimitPrice
		}
		return a.LimitPrice < b.LimitPrice
	}
	return a.CreatedSlot < b.CreatedSlot
}

func (h *priceSlotHeap) Swap(i, j int) { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }

func (h *priceSlotHeap) Push(x any) { h.ids = append(h.ids, x.(types.OrderID)) }

func (h *priceSlotHeap) Pop() any {
	n := len(h.ids)
	id := h.ids[n-1]
	h.ids = h.ids[:n-1]
	return id
}

// Book is the per-market order book: one priceSlotHeap per (outcome, side)
// pair, plus the flat order store every heap indexes into. Mutations go
// through the market's own write lock at the call site, same as the AMM
// engines; Book itself adds an RWMutex only to protect the two maps from
// concurrent cancel/scan races within that window.
type Book struct {
	mu     sync.RWMutex
	orders map[types.OrderID]*Order
	heaps  map[bookKey]*priceSlotHeap
	stops  map[types.OrderID]*Order // resting stop orders, not in a price heap
}

// NewBook constructs an empty book.
func NewBook() *Book {
	return &Book{
		orders: make(map[types.OrderID]*Order),
		heaps:  make(map[bookKey]*priceSlotHeap),
		stops:  make(map[types.OrderID]*Order),
	}
}

func (b *Book) keyFor(o *Order) bookKey {
	return bookKey{market: o.MarketID, outcomeIdx: o.OutcomeIdx, side: o.Side}
}

// PlaceLimit inserts a resting limit order into the priority heap for its
// (market, outcome, side).
func (b *Book) PlaceLimit(o *Order) error {
	if o.Kind != types.OrderLimit {
		return fmt.Errorf("orderbook place limit: %w", errs.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.keyFor(o)
	h, ok := b.heaps[key]
	if !ok {
		h = &priceSlotHeap{lookup: make(map[types.OrderID]*Order), isBid: o.Side == types.Buy}
		b.heaps[key] = h
	}
	o.Status = types.OrderOpen
	b.orders[o.ID] = o
	h.lookup[o.ID] = o
	heap.Push(h, o.ID)
	return nil
}

// PlaceStop inserts a resting stop order, triggered separately by
// CheckStopTriggers as the market price moves.
func (b *Book) PlaceStop(o *Order) error {
	if o.Kind != types.OrderStop {
		return fmt.Errorf("orderbook place stop: %w", errs.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Status = types.OrderOpen
	b.orders[o.ID] = o
	b.stops[o.ID] = o
	return nil
}

// Cancel marks an order cancelled and drops it from the stop set. A
// cancelled limit order is left in its heap and skipped lazily on the next
// pop/scan (§9 arena-index discipline: no eager compaction). Cancelling an
// order that is already cancelled fails with OrderNotFound; cancelling a
// filled order fails with OrderAlreadyFilled.
func (b *Book) Cancel(id types.OrderID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("orderbook cancel: %w", errs.ErrOrderNotFound)
	}
	if o.Status == types.OrderCancelled {
		return fmt.Errorf("orderbook cancel: %w", errs.ErrOrderNotFound)
	}
	if o.Status == types.OrderFilled {
		return fmt.Errorf("orderbook cancel: %w", errs.ErrOrderAlreadyFilled)
	}
	o.Status = types.OrderCancelled
	delete(b.stops, id)
	return nil
}

// Get returns the order by ID.
func (b *Book) Get(id types.OrderID) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// BestOpposing returns the best live resting order on the side opposite
// aggressorSide for (market, outcome), or nil if there is none. It takes
// no price and does not check whether that order would cross a taker's
// limit.
func (b *Book) BestOpposing(marketID types.MarketID, outcomeIdx int, aggressorSide types.Side) *Order {
	opposite := types.Sell
	if aggressorSide == types.Sell {
		opposite = types.Buy
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.heaps[bookKey{market: marketID, outcomeIdx: outcomeIdx, side: opposite}]
	if !ok {
		return nil
	}
	for h.Len() > 0 {
		id := h.ids[0]
		o := h.lookup[id]
		if o.Status == types.OrderCancelled || o.Status == types.OrderFilled {
			heap.Pop(h)
			continue
		}
		return o
	}
	return nil
}

// Fill records a (partial) fill against a resting order, popping it from
// its heap once fully filled.
func (b *Book) Fill(id types.OrderID, filled fixedpoint.Fixed) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("orderbook fill: %w", errs.ErrOrderNotFound)
	}
	nf, err := o.FilledSize.Add(filled)
	if err != nil {
		return err
	}
	o.FilledSize = nf
	if o.FilledSize.Cmp(o.Size) >= 0 {
		o.Status = types.OrderFilled
		b.popFromHeap(o)
	} else {
		o.Status = types.OrderPartiallyFilled
	}
	return nil
}

func (b *Book) popFromHeap(o *Order) {
	h, ok := b.heaps[b.keyFor(o)]
	if !ok {
		return
	}
	for i, id := range h.ids {
		if id == o.ID {
			heap.Remove(h, i)
			return
		}
	}
}

// CheckStopTriggers returns every resting stop order whose trigger
// condition is satisfied at currentPrice, converting them to market
// orders is the caller's responsibility (they are removed from the stop
// set here so a trigger fires exactly once).
func (b *Book) CheckStopTriggers(marketID types.MarketID, outcomeIdx int, currentPrice types.Bps) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var triggered []*Order
	for id, o := range b.stops {
		if o.MarketID != marketID || o.OutcomeIdx != outcomeIdx {
			continue
		}
		if o.Status != types.OrderOpen {
			delete(b.stops, id)
			continue
		}
		fires := (o.Side == types.Buy && currentPrice >= o.LimitPrice) ||
			(o.Side == types.Sell && currentPrice <= o.LimitPrice)
		if fires {
			triggered = append(triggered, o)
			delete(b.stops, id)
		}
	}
	return triggered
}
