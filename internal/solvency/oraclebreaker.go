package solvency

import (
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/0x-verse/verse-core/internal/errs"
)

// OracleBreaker wraps the one external call path the core actually makes
// on the hot path: ingesting a signed price push from the oracle feed
// (§4.11 treats the feed as "a signed push interface" the core receives
// calls from, but verifying/decoding a push can itself fail in ways that
// look like a flaky upstream — malformed signatures, a feed that's
// silently stopped advancing). gobreaker's generic trip/counts model is a
// good fit specifically because this path's failure mode ("the signer is
// unreachable or broken") is just "requests fail", unlike the §4.9 domain
// breakers above which must expose bespoke state (coverage_ratio,
// cooldown_slots) gobreaker's Counts can't represent.
type OracleBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewOracleBreaker constructs a breaker that opens after consecutive
// failures and probes again after timeout.
func NewOracleBreaker(name string, failureThreshold uint32, timeout time.Duration) *OracleBreaker {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}
	return &OracleBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Ingest runs fn (decode + verify a signed price push) through the
// breaker, translating gobreaker's own open-circuit error into the core's
// CircuitBreakerTriggered sentinel so callers never need to import
// gobreaker themselves.
func (ob *OracleBreaker) Ingest(fn func() error) error {
	_, err := ob.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("oracle breaker %s: %w", ob.cb.Name(), errs.ErrCircuitBreakerTriggered)
	}
	return err
}

// State reports the underlying gobreaker state name for snapshots.
func (ob *OracleBreaker) State() string {
	return ob.cb.State().String()
}
