// Package oracle implements §4.11's signed price push interface: an
// OracleRecord per market that accepts monotone, signed updates, rejects
// stale or unsigned ones, and flags anomalous movements. The core is the
// *verifier* of a push it didn't produce, so it uses crypto.SigToPub +
// crypto.PubkeyToAddress to recover the signer and compares against a
// registered oracle address rather than trusting a bearer credential.
package oracle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/pkg/types"
)

// ExcessiveMovementBps is §4.11's anomaly threshold: a single update
// moving any outcome's price more than 50% sets anomaly_flag and rate-
// limits the feed.
const ExcessiveMovementBps types.Bps = 5000

// PricePush is one signed update from the oracle feed. Signature is over
// the Keccak256 hash of (MarketID, Slot, PriceVector) — the same hash
// primitive commit/reveal uses (internal/orderbook), per DESIGN.md's
// "don't introduce a second hash function" decision.
type PricePush struct {
	MarketID    types.MarketID
	PriceVector []types.Bps
	Slot        types.Slot
	Signature   []byte // 65-byte [R || S || V] ECDSA signature
}

// Hash returns the Keccak256 digest a push's Signature is computed over.
func (p PricePush) Hash() common.Hash {
	buf := make([]byte, 0, len(p.MarketID)+8+8*len(p.PriceVector))
	buf = append(buf, []byte(p.MarketID)...)
	buf = appendUint64(buf, uint64(p.Slot))
	for _, bps := range p.PriceVector {
		buf = appendUint64(buf, uint64(bps))
	}
	return crypto.Keccak256Hash(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v))
		v >>= 8
	}
	return buf
}

// Record is one market's oracle state (§3's OracleRecord entity): the
// latest accepted price vector, the slot it was accepted at, and whether
// the feed is currently flagged for anomalous movement.
type Record struct {
	mu sync.Mutex

	MarketID        types.MarketID
	SignerAddress   common.Address
	LatestVector    []types.Bps
	LastUpdateSlot  types.Slot
	AnomalyFlag     bool
	anomalyRateLimitUntil types.Slot
}

// NewRecord constructs an oracle record bound to a market at creation
// (§3: "attached at market creation"), with the caller-supplied initial
// price vector and no updates yet accepted.
func NewRecord(marketID types.MarketID, signer common.Address, initialVector []types.Bps) *Record {
	cp := make([]types.Bps, len(initialVector))
	copy(cp, initialVector)
	return &Record{MarketID: marketID, SignerAddress: signer, LatestVector: cp}
}

// Accept validates and applies a signed price push per §4.11:
//   - InvalidOracleSignature if the recovered signer doesn't match
//     SignerAddress
//   - StalePriceUpdate if push.Slot <= LastUpdateSlot
//   - ExcessivePriceMovement if any outcome moved more than 50% in this
//     update; the push is still rejected in that case (the record sets
//     AnomalyFlag and the caller must retry once rate-limited feed
//     resumes, matching §4.11's wording that the anomalous update itself
//     "rate-limits the feed" rather than silently applying it)
func (r *Record) Accept(push PricePush, currentSlot types.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(push.PriceVector) != len(r.LatestVector) {
		return fmt.Errorf("oracle accept %s: %w: price vector length mismatch", push.MarketID, errs.ErrInvalidInput)
	}
	if push.Slot <= r.LastUpdateSlot {
		return fmt.Errorf("oracle accept %s: %w", push.MarketID, errs.ErrStalePriceUpdate)
	}
	if currentSlot < r.anomalyRateLimitUntil {
		return fmt.Errorf("oracle accept %s: %w: feed rate-limited after anomaly", push.MarketID, errs.ErrExcessivePriceMovement)
	}

	signer, err := recoverSigner(push)
	if err != nil {
		return fmt.Errorf("oracle accept %s: %w: %v", push.MarketID, errs.ErrInvalidOracleSignature, err)
	}
	if signer != r.SignerAddress {
		return fmt.Errorf("oracle accept %s: %w", push.MarketID, errs.ErrInvalidOracleSignature)
	}

	if movedExcessively(r.LatestVector, push.PriceVector) {
		r.AnomalyFlag = true
		r.anomalyRateLimitUntil = currentSlot + anomalyRateLimitSlots
		return fmt.Errorf("oracle accept %s: %w", push.MarketID, errs.ErrExcessivePriceMovement)
	}

	r.LatestVector = append([]types.Bps(nil), push.PriceVector...)
	r.LastUpdateSlot = push.Slot
	r.AnomalyFlag = false
	return nil
}

// anomalyRateLimitSlots is how long an excessive-movement rejection
// rate-limits the feed before another push is considered, per §4.11.
const anomalyRateLimitSlots types.Slot = 10

func recoverSigner(push PricePush) (common.Address, error) {
	if len(push.Signature) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(push.Signature))
	}
	hash := push.Hash()
	sig := make([]byte, 65)
	copy(sig, push.Signature)
	// crypto.SigToPub expects V in {0,1}; producers following the
	// teacher's SignTypedData convention emit {27,28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// movedExcessively reports whether any outcome's price moved more than
// ExcessiveMovementBps (relative to its previous value) between two
// vectors.
func movedExcessively(prev, next []types.Bps) bool {
	for i := range prev {
		if prev[i] == 0 {
			continue
		}
		delta := next[i] - prev[i]
		if delta < 0 {
			delta = -delta
		}
		movedBps := types.Bps(int64(delta) * int64(types.BpsScale) / int64(prev[i]))
		if movedBps > ExcessiveMovementBps {
			return true
		}
	}
	return false
}

// Snapshot returns a read-only copy of the record's current state for
// serialization or the hybrid router's read path.
func (r *Record) Snapshot() (vector []types.Bps, lastSlot types.Slot, anomaly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Bps(nil), r.LatestVector...), r.LastUpdateSlot, r.AnomalyFlag
}

// ArgmaxOutcome returns the winning outcome index for resolution (§4.11):
// the highest-priced outcome, ties broken toward the lower index, and an
// error if no outcome clears the 95%-confidence threshold.
func (r *Record) ArgmaxOutcome(confidenceThresholdBps types.Bps) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := 0
	for i, p := range r.LatestVector {
		if p > r.LatestVector[best] {
			best = i
		}
	}
	if r.LatestVector[best] < confidenceThresholdBps {
		return 0, fmt.Errorf("oracle argmax %s: %w", r.MarketID, errs.ErrConflictingResolution)
	}
	return best, nil
}
