package liquidation

import (
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/amm"
	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Config bundles the keeper's tunables; defaults mirror §4.8's named
// values.
type Config struct {
	MaxPerBatch        int       // default 5
	ThresholdBps       types.Bps // default 2500: health at/below this enters the queue
	RecoveryTargetBps  types.Bps // default 5000 (threshold + 2500): partial liquidation's goal health
	KeeperBountyBps    types.Bps // default 50
	InsuranceBps       types.Bps // portion of post-bounty seizure kept by the vault
	MaxPerWindow       int       // cascade-prevention threshold
	CooldownSlots      types.Slot
}

// DefaultConfig returns the §4.8-named defaults.
func DefaultConfig() Config {
	return Config{
		MaxPerBatch:       5,
		ThresholdBps:      2500,
		RecoveryTargetBps: 5000,
		KeeperBountyBps:   50,
		InsuranceBps:      2000,
		MaxPerWindow:      20,
		CooldownSlots:     300,
	}
}

// KeeperStats is a running tally of a keeper's batch-runner activity:
// markets swept, positions liquidated, and batches that errored out.
// §4.8's original keeper-network reports these (plus a latency average)
// per keeper for throttling and health dashboards; this core has no
// per-keeper identity (one process drives RunBatch), and wall-clock
// latency doesn't fit a deterministic, slot-keyed design, so this tracks
// aggregate counts only. Safe for concurrent use.
type KeeperStats struct {
	mu                  sync.Mutex
	MarketsProcessed    int64
	PositionsLiquidated int64
	BatchErrors         int64
}

// Snapshot returns a point-in-time copy for logging/CLI output.
func (s *KeeperStats) Snapshot() KeeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return KeeperStats{MarketsProcessed: s.MarketsProcessed, PositionsLiquidated: s.PositionsLiquidated, BatchErrors: s.BatchErrors}
}

func (s *KeeperStats) record(touched int, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MarketsProcessed++
	s.PositionsLiquidated += int64(touched)
	if err != nil {
		s.BatchErrors++
	}
}

// Result records one executed liquidation for the caller (settlement
// logging, keeper payout).
type Result struct {
	PositionID   types.PositionID
	Fraction     fixedpoint.Fixed
	Bounty       types.Micros
	Insurance    types.Micros
	UserResidual types.Micros
	FullyClosed  bool
}

// Cooldowns tracks the per-market cascade-prevention cooldown (§4.8,
// co-owned with the solvency breakers): a market that has seen more than
// MaxPerWindow liquidations in a batch has its queue paused for
// CooldownSlots.
type Cooldowns struct {
	mu     sync.Mutex
	active map[types.MarketID]types.Slot // cooldown expiry slot
}

// NewCooldowns constructs an empty cooldown tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{active: make(map[types.MarketID]types.Slot)}
}

// Active reports whether a market's liquidation queue is currently
// paused.
func (c *Cooldowns) Active(marketID types.MarketID, currentSlot types.Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.active[marketID]
	return ok && currentSlot < until
}

func (c *Cooldowns) trigger(marketID types.MarketID, currentSlot types.Slot, cooldownSlots types.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[marketID] = currentSlot + cooldownSlots
}

// liquidationFraction maps a health reading in (0, target] to the
// fraction of the position to close, so that health at the threshold
// closes at least half and health at the target closes nothing. This is
// a deliberate simplification of the recovery-sizing rule: closing a
// fraction proportionally leaves the health ratio unchanged (margin and
// PnL both scale by the same factor), so the fraction instead widens the
// remaining position's distance from zero health relative to target,
// monotonically from 0 at target to 1 at zero health.
func liquidationFraction(health, target types.Bps) (fixedpoint.Fixed, error) {
	if health <= 0 {
		return fixedpoint.FromInt64(1), nil
	}
	healthF, err := fixedpoint.FromBps(health)
	if err != nil {
		return fixedpoint.Zero, err
	}
	targetF, err := fixedpoint.FromBps(target)
	if err != nil {
		return fixedpoint.Zero, err
	}
	ratio, err := healthF.Div(targetF)
	if err != nil {
		return fixedpoint.Zero, err
	}
	f, err := fixedpoint.FromInt64(1).Sub(ratio)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if f.IsNeg() {
		return fixedpoint.Zero, nil
	}
	one := fixedpoint.FromInt64(1)
	if f.Cmp(one) > 0 {
		return one, nil
	}
	return f, nil
}

// RunBatch drains up to cfg.MaxPerBatch entries queued against m,
// executing each liquidation through the AMM router. Caller must hold
// m's write lock and g's lock must not be held (RunBatch acquires it per
// touched position, after the market lock, per §5).
func RunBatch(q *Queue, reg *position.Registry, m *market.Market, g *market.GlobalConfig, cooldowns *Cooldowns, cfg Config, currentSlot types.Slot, stats *KeeperStats) ([]Result, error) {
	if cooldowns.Active(m.ID, currentSlot) {
		stats.record(0, errs.ErrLiquidationHalted)
		return nil, fmt.Errorf("liquidation run batch: %w", errs.ErrLiquidationHalted)
	}

	var results []Result
	touched := 0
	for i := 0; i < cfg.MaxPerBatch; i++ {
		entry := q.PopMarket(m.ID)
		if entry == nil {
			break
		}

		p, ok := reg.Get(entry.PositionID)
		if !ok {
			continue // position closed by the user since being queued
		}
		if p.Status != types.PositionOpen {
			continue
		}

		currentPrice := m.PriceVector[p.OutcomeIdx]
		pnl, err := recomputeUnrealizedPnL(p, currentPrice)
		if err != nil {
			stats.record(touched, err)
			return results, err
		}
		health, err := position.HealthBps(p.MarginLocked, pnl)
		if err != nil {
			stats.record(touched, err)
			return results, err
		}
		if health > cfg.ThresholdBps {
			continue // recovered since being queued: PositionHealthy, skip silently
		}

		result, err := liquidateOne(reg, m, g, p, pnl, health, cfg, currentSlot)
		if err != nil {
			stats.record(touched, err)
			return results, err
		}
		results = append(results, result)
		touched++
	}

	if touched > cfg.MaxPerWindow {
		cooldowns.trigger(m.ID, currentSlot, cfg.CooldownSlots)
	}
	stats.record(touched, nil)
	return results, nil
}

func recomputeUnrealizedPnL(p *position.Position, currentPrice types.Bps) (fixedpoint.Fixed, error) {
	entryF, err := fixedpoint.FromBps(p.EntryPrice)
	if err != nil {
		return fixedpoint.Zero, err
	}
	curF, err := fixedpoint.FromBps(currentPrice)
	if err != nil {
		return fixedpoint.Zero, err
	}
	diff, err := curF.Sub(entryF)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if !p.IsLong {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// liquidateOne executes the inverse trade for a fraction of p's size,
// splits the seized margin per §4.8, and either leaves the reduced
// position open or force-closes it once the accumulator reaches the
// full notional.
func liquidateOne(reg *position.Registry, m *market.Market, g *market.GlobalConfig, p *position.Position, pnl fixedpoint.Fixed, health types.Bps, cfg Config, currentSlot types.Slot) (Result, error) {
	fraction, err := liquidationFraction(health, cfg.RecoveryTargetBps)
	if err != nil {
		return Result{}, err
	}

	closedSize, err := p.Size.Mul(fraction)
	if err != nil {
		return Result{}, err
	}
	closedMargin, err := p.MarginLocked.Mul(fraction)
	if err != nil {
		return Result{}, err
	}
	closedPnL, err := pnl.Mul(fraction)
	if err != nil {
		return Result{}, err
	}

	trade, err := amm.Trade(m, p.OutcomeIdx, closedSize, !p.IsLong, 0)
	if err != nil {
		return Result{}, fmt.Errorf("liquidate position: %w", err)
	}
	notional := trade.Cost

	seized, err := closedMargin.Add(closedPnL)
	if err != nil {
		return Result{}, err
	}
	if seized.IsNeg() {
		seized = fixedpoint.Zero
	}

	bountyF, err := fixedpoint.FromMicros(notional).Mul(fixedpoint.MustFromRatio(int64(cfg.KeeperBountyBps), int64(types.BpsScale)))
	if err != nil {
		return Result{}, err
	}
	if bountyF.Cmp(seized) > 0 {
		bountyF = seized
	}
	remaining, err := seized.Sub(bountyF)
	if err != nil {
		return Result{}, err
	}
	insuranceF, err := remaining.Mul(fixedpoint.MustFromRatio(int64(cfg.InsuranceBps), int64(types.BpsScale)))
	if err != nil {
		return Result{}, err
	}
	residualF, err := remaining.Sub(insuranceF)
	if err != nil {
		return Result{}, err
	}

	newAccumulated, err := p.PartialLiqAccumulated.Add(closedSize)
	if err != nil {
		return Result{}, err
	}
	p.PartialLiqAccumulated = newAccumulated

	remainingSize, err := p.Size.Sub(closedSize)
	if err != nil {
		return Result{}, err
	}
	remainingMargin, err := p.MarginLocked.Sub(closedMargin)
	if err != nil {
		return Result{}, err
	}
	p.Size = remainingSize
	p.MarginLocked = remainingMargin
	p.UnrealizedPnL, err = pnl.Sub(closedPnL)
	if err != nil {
		return Result{}, err
	}

	fullyClosed := p.Size.IsZero()
	if fraction.Cmp(fixedpoint.FromInt64(1)) >= 0 || p.Size.IsZero() {
		fullyClosed = true
		p.Status = types.PositionLiquidated
		delete(m.OpenPositionIndex, p.ID)
	}

	g.Lock()
	g.ApplyOpenInterestDeltaLocked(-int64(fixedpoint.ToMicros(closedMargin)))
	g.ApplyVaultDeltaLocked(int64(fixedpoint.ToMicros(insuranceF)))
	g.Unlock()

	return Result{
		PositionID:   p.ID,
		Fraction:     fraction,
		Bounty:       fixedpoint.ToMicros(bountyF),
		Insurance:    fixedpoint.ToMicros(insuranceF),
		UserResidual: fixedpoint.ToMicros(residualF),
		FullyClosed:  fullyClosed,
	}, nil
}
