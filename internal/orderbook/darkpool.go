package orderbook

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// DarkPool holds hidden orders gated by minimum size; it never exposes
// depth on the public book (§4.6). Matching happens at the market
// midpoint improved by price_improvement_bps in the taker's favor.
type DarkPool struct {
	mu            sync.Mutex
	minimumSize   fixedpoint.Fixed
	improvement   types.Bps
	orders        map[types.OrderID]*Order
	submitLimiter *rate.Limiter
}

// NewDarkPool constructs a pool with the given minimum size and price
// improvement, and a submission-rate gate grounded on the same
// token-bucket discipline used for the book's congestion breaker.
func NewDarkPool(minimumSize fixedpoint.Fixed, improvementBps types.Bps, submitsPerSecond float64) *DarkPool {
	return &DarkPool{
		minimumSize:   minimumSize,
		improvement:   improvementBps,
		orders:        make(map[types.OrderID]*Order),
		submitLimiter: rate.NewLimiter(rate.Limit(submitsPerSecond), int(submitsPerSecond)+1),
	}
}

// Submit accepts an order into the hidden pool, failing BelowMinimumSize
// if the order's size is under the pool's floor.
func (d *DarkPool) Submit(o *Order) error {
	if o.Size.Cmp(d.minimumSize) < 0 {
		return fmt.Errorf("dark pool submit: %w", errs.ErrBelowMinimumSize)
	}
	if !d.submitLimiter.Allow() {
		return fmt.Errorf("dark pool submit: %w", errs.ErrRateLimited)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	o.Status = types.OrderOpen
	d.orders[o.ID] = o
	return nil
}

// Cancel removes a hidden order.
func (d *DarkPool) Cancel(id types.OrderID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("dark pool cancel: %w", errs.ErrOrderNotFound)
	}
	o.Status = types.OrderCancelled
	delete(d.orders, id)
	return nil
}

// Match scans for a resting opposing order it can cross against the
// taker side, at midPrice improved by improvement_bps toward the taker.
// Returns nil if nothing crosses.
func (d *DarkPool) Match(marketID types.MarketID, outcomeIdx int, takerSide types.Side, takerSize fixedpoint.Fixed, midPrice types.Bps) (*Order, types.Bps, error) {
	opposite := types.Sell
	if takerSide == types.Sell {
		opposite = types.Buy
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	matchPrice := midPrice
	if takerSide == types.Buy {
		matchPrice -= d.improvement
	} else {
		matchPrice += d.improvement
	}
	if matchPrice < 1 {
		matchPrice = 1
	}
	if matchPrice > types.BpsScale-1 {
		matchPrice = types.BpsScale - 1
	}

	for _, o := range d.orders {
		if o.MarketID != marketID || o.OutcomeIdx != outcomeIdx || o.Side != opposite {
			continue
		}
		if o.Status != types.OrderOpen && o.Status != types.OrderPartiallyFilled {
			continue
		}
		if o.Remaining().Cmp(takerSize) < 0 {
			continue
		}
		return o, matchPrice, nil
	}
	return nil, 0, nil
}

// Fill records a fill against a hidden order, removing it once exhausted.
func (d *DarkPool) Fill(id types.OrderID, filled fixedpoint.Fixed) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("dark pool fill: %w", errs.ErrOrderNotFound)
	}
	nf, err := o.FilledSize.Add(filled)
	if err != nil {
		return err
	}
	o.FilledSize = nf
	if o.FilledSize.Cmp(o.Size) >= 0 {
		o.Status = types.OrderFilled
		delete(d.orders, id)
	} else {
		o.Status = types.OrderPartiallyFilled
	}
	return nil
}
