// Package solvency implements the platform-wide solvency and circuit
// breaker model of §4.9: per-market price-deviation and volume-spike
// breakers, the global coverage gate, a liquidation-surge pause, a
// congestion gate into commit/reveal, and administrative emergency
// shutdown.
package solvency

import (
	"sync"
	"time"

	"github.com/0x-verse/verse-core/pkg/types"
)

// BreakerState mirrors the closed/open/half-open model every domain
// breaker in this package uses — the same three-state shape, generalized
// from "is the upstream call allowed" to "is trading on this market
// allowed".
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one domain breaker instance. Unlike the upstream
// circuit package this isn't failure-counting — each breaker here trips
// on a single observed condition (a price move, a volume spike, a
// liquidation surge) and recovers only after its CooldownSlots elapse,
// matching §4.9's table directly rather than circuit.go's
// consecutive-failure/success counters.
type BreakerConfig struct {
	Name          string
	CooldownSlots types.Slot
}

// Breaker is one per-market (or, for Coverage/Congestion, platform-wide)
// circuit breaker. Trip and Allow are the only hot-path calls; Stats is
// for snapshot/observability.
type Breaker struct {
	mu              sync.RWMutex
	cfg             BreakerConfig
	state           BreakerState
	trippedAtSlot   types.Slot
	lastTripReason  string
	totalTrips      int64
	lastStateChange time.Time
}

// NewBreaker constructs a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed, lastStateChange: types.Now()}
}

// Trip opens the breaker at currentSlot with the given reason. Re-tripping
// an already-open breaker just refreshes the cooldown clock (cascading
// conditions keep it open rather than letting a stale trip expire mid-storm).
func (b *Breaker) Trip(currentSlot types.Slot, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.trippedAtSlot = currentSlot
	b.lastTripReason = reason
	b.totalTrips++
	b.lastStateChange = types.Now()
}

// Allow reports whether trading should proceed at currentSlot, advancing
// Open -> HalfOpen once the cooldown has elapsed. A HalfOpen breaker
// allows trades through; the caller is responsible for calling Reset once
// it observes the triggering condition has actually cleared (§4.9 doesn't
// define a probe request the way gobreaker's half-open state does — the
// condition itself, e.g. coverage_ratio, is what gates re-closing).
func (b *Breaker) Allow(currentSlot types.Slot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if currentSlot >= b.trippedAtSlot+b.cfg.CooldownSlots {
			b.state = StateHalfOpen
			b.lastStateChange = types.Now()
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// Reset closes the breaker — called once the caller has verified the
// condition that tripped it (price stabilized, volume back to baseline,
// coverage recovered) no longer holds.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.lastTripReason = ""
	b.lastStateChange = types.Now()
}

// ForceOpen is the administrative emergency-shutdown path: a breaker
// forced open never auto-transitions to half-open no matter how much time
// passes, unlike a normally tripped breaker — it requires an explicit
// Reset from an admin operation.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.trippedAtSlot = ^types.Slot(0) // never elapses on its own
	b.lastTripReason = reason
	b.totalTrips++
	b.lastStateChange = types.Now()
}

// Stats is a point-in-time read of a breaker's state for snapshots/logs.
type Stats struct {
	Name       string
	State      BreakerState
	TotalTrips int64
	LastReason string
}

func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Name: b.cfg.Name, State: b.state, TotalTrips: b.totalTrips, LastReason: b.lastTripReason}
}
