package orderbook

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// OrderPayload is the revealed content of a sealed commitment: everything
// needed to place the order once opened.
type OrderPayload struct {
	UserID     types.UserID
	MarketID   types.MarketID
	OutcomeIdx int
	Side       types.Side
	Size       fixedpoint.Fixed
	LimitPrice types.Bps
}

// CommitRevealSlot is a short-lived sealed-bid entry: a commitment hash
// posted at slot s, reveal permitted only in [s+k_min, s+k_max] (§4.6).
type CommitRevealSlot struct {
	Hash           types.CommitmentHash
	Submitter      types.UserID
	CommittedSlot  types.Slot
	RevealMinSlot  types.Slot
	RevealMaxSlot  types.Slot
	Revealed       bool
	Payload        OrderPayload
}

// CommitRevealQueue batches commitments by a deterministic boundary and
// orders reveals within a batch by commitment hash, defusing
// adversarial slot-gaming (§4.6).
type CommitRevealQueue struct {
	mu      sync.Mutex
	minDelay types.Slot
	maxDelay types.Slot
	slots   map[types.CommitmentHash]*CommitRevealSlot
}

// NewCommitRevealQueue constructs a queue with the given reveal-window
// bounds (k_min, k_max) in slots.
func NewCommitRevealQueue(minDelay, maxDelay types.Slot) *CommitRevealQueue {
	return &CommitRevealQueue{
		minDelay: minDelay,
		maxDelay: maxDelay,
		slots:    make(map[types.CommitmentHash]*CommitRevealSlot),
	}
}

// HashCommitment derives the commitment hash from the serialized order
// payload and a caller-supplied salt, via Keccak256 (the same primitive
// the oracle's signature verification is built on).
func HashCommitment(payload OrderPayload, salt []byte) types.CommitmentHash {
	var buf bytes.Buffer
	buf.WriteString(string(payload.UserID))
	buf.WriteString(string(payload.MarketID))
	binary.Write(&buf, binary.LittleEndian, int64(payload.OutcomeIdx))
	binary.Write(&buf, binary.LittleEndian, int64(payload.Side))
	neg, mag := payload.Size.Raw()
	buf.WriteByte(boolByte(neg))
	magBytes := mag.Bytes32()
	buf.Write(magBytes[:])
	binary.Write(&buf, binary.LittleEndian, int64(payload.LimitPrice))
	buf.Write(salt)
	return types.CommitmentHash(crypto.Keccak256Hash(buf.Bytes()))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Commit registers a sealed commitment at the current slot.
func (q *CommitRevealQueue) Commit(hash types.CommitmentHash, submitter types.UserID, currentSlot types.Slot) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.slots[hash]; exists {
		return fmt.Errorf("commit reveal: %w", errs.ErrInvalidCommitment)
	}
	q.slots[hash] = &CommitRevealSlot{
		Hash:          hash,
		Submitter:     submitter,
		CommittedSlot: currentSlot,
		RevealMinSlot: currentSlot + q.minDelay,
		RevealMaxSlot: currentSlot + q.maxDelay,
	}
	return nil
}

// Reveal opens a commitment by recomputing its hash from the payload and
// salt; fails TooEarlyToReveal / RevealDeadlinePassed / InvalidCommitment.
func (q *CommitRevealQueue) Reveal(payload OrderPayload, salt []byte, currentSlot types.Slot) error {
	hash := HashCommitment(payload, salt)

	q.mu.Lock()
	defer q.mu.Unlock()
	slot, ok := q.slots[hash]
	if !ok || slot.Revealed {
		return fmt.Errorf("commit reveal: %w", errs.ErrInvalidCommitment)
	}
	if currentSlot < slot.RevealMinSlot {
		return fmt.Errorf("commit reveal: %w", errs.ErrTooEarlyToReveal)
	}
	if currentSlot > slot.RevealMaxSlot {
		delete(q.slots, hash)
		return fmt.Errorf("commit reveal: %w", errs.ErrRevealDeadlinePassed)
	}
	slot.Revealed = true
	slot.Payload = payload
	return nil
}

// DrainBatch collects every commitment revealed as of currentSlot,
// removes them from the queue, and returns them ordered by commitment
// hash ascending (the deterministic batch-execution order).
func (q *CommitRevealQueue) DrainBatch(currentSlot types.Slot) []*CommitRevealSlot {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []*CommitRevealSlot
	for hash, slot := range q.slots {
		if slot.Revealed {
			batch = append(batch, slot)
			delete(q.slots, hash)
		}
	}
	sort.Slice(batch, func(i, j int) bool {
		return bytes.Compare(batch[i].Hash[:], batch[j].Hash[:]) < 0
	})
	return batch
}

// ExpireStale removes commitments whose reveal window has passed without
// a reveal, so the queue doesn't grow unbounded across slots.
func (q *CommitRevealQueue) ExpireStale(currentSlot types.Slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for hash, slot := range q.slots {
		if !slot.Revealed && currentSlot > slot.RevealMaxSlot {
			delete(q.slots, hash)
		}
	}
}
