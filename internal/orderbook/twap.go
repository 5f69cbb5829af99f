package orderbook

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// TWAPSchedule divides total_size into equal child slices separated by
// duration/intervals slots (§4.6). ExecuteInterval is the external
// invocation that releases the next slice.
type TWAPSchedule struct {
	Parent           *Order
	TotalSize        fixedpoint.Fixed
	Intervals        int
	DurationSlots     types.Slot
	StartSlot        types.Slot
	ExecutedIntervals int

	// limiter caps how many slices ExecuteInterval releases per wall-clock
	// second, independent of the slot schedule. Calls rejected as complete
	// or too early return before reaching it and consume no token.
	limiter *rate.Limiter
}

// NewTWAPSchedule constructs a schedule. invocationsPerSecond bounds how
// many slices ExecuteInterval may release per second, with a burst of
// int(invocationsPerSecond)+1.
func NewTWAPSchedule(parent *Order, totalSize fixedpoint.Fixed, intervals int, durationSlots, startSlot types.Slot, invocationsPerSecond float64) (*TWAPSchedule, error) {
	if intervals <= 0 {
		return nil, fmt.Errorf("twap schedule: %w", errs.ErrInvalidInput)
	}
	return &TWAPSchedule{
		Parent:        parent,
		TotalSize:     totalSize,
		Intervals:     intervals,
		DurationSlots: durationSlots,
		StartSlot:     startSlot,
		limiter:       rate.NewLimiter(rate.Limit(invocationsPerSecond), int(invocationsPerSecond)+1),
	}, nil
}

// sliceSize returns total_size/intervals, with residue on the last slice.
func (t *TWAPSchedule) sliceSize(intervalIdx int) (fixedpoint.Fixed, error) {
	base, err := t.TotalSize.Div(fixedpoint.FromInt64(int64(t.Intervals)))
	if err != nil {
		return fixedpoint.Zero, err
	}
	if intervalIdx < t.Intervals-1 {
		return base, nil
	}
	dispensed, err := base.Mul(fixedpoint.FromInt64(int64(t.Intervals - 1)))
	if err != nil {
		return fixedpoint.Zero, err
	}
	return t.TotalSize.Sub(dispensed)
}

// nextEligibleSlot returns the earliest slot at which ExecutedIntervals
// (the next, not-yet-run interval) is allowed to fire. Missed intervals
// are absorbed into the next execution rather than lost, so eligibility
// is a floor, not an exact match.
func (t *TWAPSchedule) nextEligibleSlot() types.Slot {
	perInterval := t.DurationSlots / types.Slot(t.Intervals)
	return t.StartSlot + types.Slot(t.ExecutedIntervals+1)*perInterval
}

// ExecuteInterval releases the next slice's size as a market-order
// quantity, or fails with TWAPTooEarly / TWAPComplete. The caller is
// responsible for actually routing the returned size through the AMM.
func (t *TWAPSchedule) ExecuteInterval(currentSlot types.Slot) (fixedpoint.Fixed, error) {
	if t.ExecutedIntervals >= t.Intervals {
		return fixedpoint.Zero, fmt.Errorf("twap execute interval: %w", errs.ErrTWAPComplete)
	}
	if currentSlot < t.nextEligibleSlot() {
		return fixedpoint.Zero, fmt.Errorf("twap execute interval: %w", errs.ErrTWAPTooEarly)
	}
	if !t.limiter.Allow() {
		return fixedpoint.Zero, fmt.Errorf("twap execute interval: %w", errs.ErrRateLimited)
	}

	size, err := t.sliceSize(t.ExecutedIntervals)
	if err != nil {
		return fixedpoint.Zero, err
	}
	t.ExecutedIntervals++
	return size, nil
}
