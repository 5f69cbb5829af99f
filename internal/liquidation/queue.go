// Package liquidation implements the health monitor and keeper loop of
// §4.8: a priority queue over positions ordered by how close they are to
// liquidation, and a batch-draining keeper that executes the inverse
// trade through the AMM router, splits the seized margin, and prevents
// cascades with a per-market cooldown.
package liquidation

import (
	"container/heap"
	"sync"

	"github.com/0x-verse/verse-core/pkg/types"
)

// Entry is one queued position: ordered by (health ascending, enqueued
// slot ascending, position id) so the unhealthiest, oldest entries drain
// first (§4.8, §3).
type Entry struct {
	PositionID   types.PositionID
	MarketID     types.MarketID
	Health       types.Bps
	EnqueuedSlot types.Slot
	index        int // heap.Interface bookkeeping
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Health != h[j].Health {
		return h[i].Health < h[j].Health
	}
	if h[i].EnqueuedSlot != h[j].EnqueuedSlot {
		return h[i].EnqueuedSlot < h[j].EnqueuedSlot
	}
	return h[i].PositionID < h[j].PositionID
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is the per-exchange liquidation priority queue. One Queue serves
// every market; entries carry MarketID so the keeper can drain a single
// market's backlog without scanning unrelated entries (the cooldown is
// also tracked per market).
type Queue struct {
	mu      sync.Mutex
	h       entryHeap
	byOwner map[types.PositionID]*Entry
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{byOwner: make(map[types.PositionID]*Entry)}
}

// Upsert inserts a new entry or updates an existing position's health and
// re-heapifies. Called by the mark-price monitor after every price move
// (§4.8).
func (q *Queue) Upsert(positionID types.PositionID, marketID types.MarketID, health types.Bps, enqueuedSlot types.Slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.byOwner[positionID]; ok {
		e.Health = health
		heap.Fix(&q.h, e.index)
		return
	}
	e := &Entry{PositionID: positionID, MarketID: marketID, Health: health, EnqueuedSlot: enqueuedSlot}
	heap.Push(&q.h, e)
	q.byOwner[positionID] = e
}

// Remove drops a position from the queue — called when its health
// recovers above the liquidation threshold.
func (q *Queue) Remove(positionID types.PositionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byOwner[positionID]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.byOwner, positionID)
}

// PopMarket removes and returns the unhealthiest queued entry for
// marketID, or nil if that market has nothing queued. Other markets'
// entries are left untouched (they may be popped independently, even
// concurrently, since each market is drained under its own lock — see
// §5). The heap backing Queue orders across all markets, so picking the
// best entry for one market means scanning for the matching minimum
// rather than trusting the root (which may belong to a different
// market).
func (q *Queue) PopMarket(marketID types.MarketID) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := -1
	for i, e := range q.h {
		if e.MarketID != marketID {
			continue
		}
		if best == -1 || q.h.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	e := heap.Remove(&q.h, best).(*Entry)
	delete(q.byOwner, e.PositionID)
	return e
}

// Len reports the total number of queued entries across all markets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
