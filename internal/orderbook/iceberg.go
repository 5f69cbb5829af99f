package orderbook

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Iceberg tracks a large order that only ever exposes visible_size on the
// book at once (§4.6). Refresh happens synchronously with a fill — there
// is no separate scheduling loop.
type Iceberg struct {
	Parent      *Order
	VisibleSize fixedpoint.Fixed
	TotalSize   fixedpoint.Fixed
	Filled      fixedpoint.Fixed
	activeSlice types.OrderID // ID of the currently resting visible slice
}

// NewIceberg posts the first visible slice and registers it in the book.
func NewIceberg(b *Book, parent *Order, visibleSize, totalSize fixedpoint.Fixed) (*Iceberg, error) {
	if visibleSize.Cmp(totalSize) > 0 {
		return nil, fmt.Errorf("iceberg: %w", errs.ErrInvalidInput)
	}
	ice := &Iceberg{Parent: parent, VisibleSize: visibleSize, TotalSize: totalSize}
	if err := ice.postSlice(b); err != nil {
		return nil, err
	}
	return ice, nil
}

func (ice *Iceberg) remaining() (fixedpoint.Fixed, error) {
	return ice.TotalSize.Sub(ice.Filled)
}

// postSlice posts a new visible slice of min(visible_size, remaining).
func (ice *Iceberg) postSlice(b *Book) error {
	remaining, err := ice.remaining()
	if err != nil {
		return err
	}
	if remaining.IsZero() || remaining.IsNeg() {
		return nil
	}
	sliceSize := ice.VisibleSize
	if remaining.Cmp(sliceSize) < 0 {
		sliceSize = remaining
	}
	slice := &Order{
		ID:          ice.Parent.ID + types.OrderID(fmt.Sprintf("-slice-%d", ice.Filled.Int64())),
		UserID:      ice.Parent.UserID,
		MarketID:    ice.Parent.MarketID,
		OutcomeIdx:  ice.Parent.OutcomeIdx,
		Side:        ice.Parent.Side,
		Kind:        types.OrderLimit,
		TIF:         ice.Parent.TIF,
		LimitPrice:  ice.Parent.LimitPrice,
		Size:        sliceSize,
		CreatedSlot: ice.Parent.CreatedSlot,
	}
	if err := b.PlaceLimit(slice); err != nil {
		return err
	}
	ice.activeSlice = slice.ID
	return nil
}

// OnSliceFilled must be called whenever the active visible slice fills
// (fully or partially); it posts a fresh slice once the active one is
// exhausted, until total_size is reached.
func (ice *Iceberg) OnSliceFilled(b *Book, filledAmount fixedpoint.Fixed) error {
	nf, err := ice.Filled.Add(filledAmount)
	if err != nil {
		return err
	}
	ice.Filled = nf

	slice, ok := b.Get(ice.activeSlice)
	if !ok {
		return fmt.Errorf("iceberg on slice filled: %w", errs.ErrOrderNotFound)
	}
	if slice.Status != types.OrderFilled {
		return nil
	}
	return ice.postSlice(b)
}

// IsComplete reports whether total_size has been fully filled.
func (ice *Iceberg) IsComplete() bool {
	return ice.Filled.Cmp(ice.TotalSize) >= 0
}

// ActiveSliceID returns the order ID of the currently resting visible
// slice, for callers that need to route a fill into the book before
// calling OnSliceFilled.
func (ice *Iceberg) ActiveSliceID() types.OrderID {
	return ice.activeSlice
}
