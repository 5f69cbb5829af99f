package solvency

import "sync"

// TokenBucket is the congestion gate's rate limiter: continuous refill
// rather than fixed-window bursts, refilled only by explicit Refill calls. This
// gate sits on the core's synchronous hot path (§5: no suspension points
// in a critical section) so it exposes a non-blocking TryTake instead of
// a Wait()-blocks-until-available API.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per slot
	lastSlot int64
}

// NewTokenBucket creates a rate limiter with the given capacity and
// refill rate per slot. Slot-driven rather than wall-clock, since the
// core's only notion of time is the slot counter (§5, §6).
func NewTokenBucket(capacity, ratePerSlot float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: ratePerSlot}
}

// TryTake attempts to consume one token; it does not refill the bucket
// (see Refill). Returns false (no token available) instead
// of blocking — the congestion breaker's caller routes a refused
// submission into commit/reveal rather than waiting.
func (tb *TokenBucket) TryTake() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Refill advances the bucket by elapsedSlots, called once per slot tick
// by the caller that drives the core's slot clock. Refilling on an
// explicit tick keeps this type free of a time.Now() dependency, matching
// §9's float/wallclock-free discipline for anything that can affect trade
// outcomes.
func (tb *TokenBucket) Refill(elapsedSlots int64) {
	if elapsedSlots <= 0 {
		return
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens += float64(elapsedSlots) * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}
