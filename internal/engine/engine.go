// Package engine is the central orchestrator of the exchange core. It
// wires together every subsystem — markets, positions, the order book,
// liquidation, solvency, oracle, settlement, and bootstrap — behind the
// transport-agnostic operation table §6 defines: create_market,
// open_position, close_position, place_order, cancel_order,
// commit_order/reveal_order, push_oracle_price, resolve_market,
// settle_position, liquidate_batch, deposit/withdraw. A caller (the
// façade, a test, or cmd/versectl) calls Engine methods directly; there is
// no network transport or goroutine-per-market loop here, since §5's
// single-writer-per-market model makes every operation a synchronous call
// under that market's own lock rather than a message a background
// goroutine picks up.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0x-verse/verse-core/internal/amm"
	"github.com/0x-verse/verse-core/internal/bootstrap"
	"github.com/0x-verse/verse-core/internal/config"
	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/liquidation"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/oracle"
	"github.com/0x-verse/verse-core/internal/orderbook"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/internal/settlement"
	"github.com/0x-verse/verse-core/internal/solvency"
	"github.com/0x-verse/verse-core/pkg/types"
)

// marketSlot bundles the per-market resources that have no natural home
// in the market registry itself: the resting order book and the advanced
// order-type queues. There is no goroutine or cancel func here, since
// nothing in this package runs in the background.
type marketSlot struct {
	book         *orderbook.Book
	commitReveal *orderbook.CommitRevealQueue
	darkPool     *orderbook.DarkPool

	mu      sync.Mutex
	icebergs map[types.OrderID]*orderbook.Iceberg
	twaps    map[types.OrderID]*orderbook.TWAPSchedule
}

// Engine owns every registry and cross-cutting subsystem the operation
// table needs, plus the per-market slots keyed by MarketID.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	global *market.GlobalConfig

	markets     *market.Registry
	positions   *position.Registry
	oracles     *oracle.Registry
	settlements *settlement.Registry

	liquidationQueue *liquidation.Queue
	liquidationCfg   liquidation.Config
	cooldowns        *liquidation.Cooldowns
	keeperStats      *liquidation.KeeperStats

	monitor       *solvency.Monitor
	oracleBreaker *solvency.OracleBreaker
	guard         *bootstrap.Guard

	slotsMu sync.Mutex
	slots   map[types.MarketID]*marketSlot
}

// New wires every subsystem from runtime config and the genesis table.
func New(cfg config.Config, genesis *config.GenesisConfig, bootstrapTarget types.Micros, mmtAllocation types.Micros, logger *slog.Logger) *Engine {
	solvencyCfg := solvency.DefaultConfig()
	solvencyCfg.PriceDeviationBps = types.Bps(cfg.Solvency.PriceDeviationBps)
	solvencyCfg.PriceCooldownSlots = types.Slot(cfg.Solvency.PriceCooldownSlots)
	solvencyCfg.VolumeStdMultiplier = cfg.Solvency.VolumeStdMultiplier
	solvencyCfg.VolumeCooldownSlots = types.Slot(cfg.Solvency.VolumeCooldownSlots)
	solvencyCfg.CoverageHaltBps = types.Bps(cfg.Solvency.CoverageHaltBps)
	solvencyCfg.CoverageResumeBps = types.Bps(cfg.Solvency.CoverageResumeBps)
	solvencyCfg.CoverageCriticalBps = types.Bps(cfg.Solvency.CoverageCriticalBps)

	return &Engine{
		cfg:              cfg,
		logger:           logger.With("component", "engine"),
		global:           genesis.BuildGlobalConfig(),
		markets:          market.NewRegistry(),
		positions:        position.NewRegistry(),
		oracles:          oracle.NewRegistry(),
		settlements:      settlement.NewRegistry(),
		liquidationQueue: liquidation.NewQueue(),
		liquidationCfg:   liquidation.DefaultConfig(),
		cooldowns:        liquidation.NewCooldowns(),
		keeperStats:      &liquidation.KeeperStats{},
		monitor:          solvency.NewMonitor(solvencyCfg, float64(cfg.Solvency.CongestionCapacity), float64(cfg.Solvency.CongestionRatePerSlot)),
		oracleBreaker:    solvency.NewOracleBreaker("oracle-feed", cfg.Solvency.OracleFailureThreshold, cfg.Solvency.OracleBreakerTimeout),
		guard:            bootstrap.NewGuard(bootstrap.DefaultConfig(bootstrapTarget), mmtAllocation),
		slots:            make(map[types.MarketID]*marketSlot),
	}
}

func (e *Engine) slotFor(id types.MarketID) *marketSlot {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	s, ok := e.slots[id]
	if !ok {
		s = &marketSlot{
			book:         orderbook.NewBook(),
			commitReveal: orderbook.NewCommitRevealQueue(5, 600),
			darkPool:     orderbook.NewDarkPool(fixedpoint.FromInt64(100), 10, 2),
			icebergs:     make(map[types.OrderID]*orderbook.Iceberg),
			twaps:        make(map[types.OrderID]*orderbook.TWAPSchedule),
		}
		e.slots[id] = s
	}
	return s
}

// CreateMarket constructs a market, registers it, and attaches a fresh
// oracle record bound to signer.
func (e *Engine) CreateMarket(spec market.Spec, signer common.Address, initialVector []types.Bps) (*market.Market, error) {
	if spec.ID == "" {
		spec.ID = e.markets.NextID()
	}
	m, err := market.NewMarket(spec)
	if err != nil {
		return nil, err
	}
	e.markets.Insert(m)
	e.oracles.Insert(oracle.NewRecord(m.ID, signer, initialVector))
	e.slotFor(m.ID)
	return m, nil
}

// OpenPosition implements the open_position operation: checks solvency
// gates, then delegates to position.OpenPosition under the market's write
// lock, strictly before the global lock it needs internally (§5).
func (e *Engine) OpenPosition(marketID types.MarketID, owner types.UserID, outcomeIdx int, size fixedpoint.Fixed, leverage uint32, isLong bool, maintenanceBps types.Bps, availableCredit types.Micros, currentSlot types.Slot) (*position.OpenResult, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return nil, err
	}
	if err := e.monitor.AllowNewPosition(currentSlot, leverage); err != nil {
		return nil, err
	}
	if err := e.monitor.AllowTrading(marketID, currentSlot); err != nil {
		return nil, err
	}

	m.Lock()
	defer m.Unlock()

	result, err := position.OpenPosition(e.positions, m, e.global, owner, outcomeIdx, size, leverage, isLong, maintenanceBps, availableCredit, currentSlot)
	if err != nil {
		return nil, err
	}
	e.afterTrade(marketID, m, currentSlot)
	return result, nil
}

// ClosePosition implements the close_position operation.
func (e *Engine) ClosePosition(marketID types.MarketID, positionID types.PositionID, currentSlot types.Slot) (*position.CloseResult, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return nil, err
	}
	m.Lock()
	defer m.Unlock()

	result, err := position.ClosePosition(e.positions, m, e.global, positionID, currentSlot)
	if err != nil {
		return nil, err
	}
	e.afterTrade(marketID, m, currentSlot)
	return result, nil
}

// afterTrade refreshes the solvency monitor's sliding windows and coverage
// breaker from the market's post-trade state, then sweeps the liquidation
// monitor (§4.8) so any mark-price change this trade caused is reflected
// in the liquidation queue. Caller must already hold m's write lock.
func (e *Engine) afterTrade(marketID types.MarketID, m *market.Market, currentSlot types.Slot) {
	if err := e.monitor.CheckTrade(marketID, currentSlot, m.CurrentPrice, int64(m.TotalVolume)); err != nil {
		e.logger.Warn("solvency breaker tripped", "market", marketID, "error", err)
	}
	if coverageBps, err := solvency.CoverageRatioBps(e.global); err == nil {
		e.monitor.CheckCoverage(currentSlot, coverageBps)
		e.monitor.ResetCoverageIfRecovered(coverageBps)
	}
	e.runLiquidationMonitor(marketID, m, currentSlot)
}

// runLiquidationMonitor recomputes every open position's health on m and
// keeps the liquidation queue in sync: positions at or below the
// liquidation threshold are upserted so RunBatch picks them up, and
// positions that have recovered are dropped.
func (e *Engine) runLiquidationMonitor(marketID types.MarketID, m *market.Market, currentSlot types.Slot) {
	healths, err := position.UpdateMarkToMarket(e.positions, m, currentSlot)
	if err != nil {
		e.logger.Warn("mark-to-market sweep failed", "market", marketID, "error", err)
		return
	}
	for _, h := range healths {
		if h.Health <= e.liquidationCfg.ThresholdBps {
			e.liquidationQueue.Upsert(h.PositionID, marketID, h.Health, currentSlot)
		} else {
			e.liquidationQueue.Remove(h.PositionID)
		}
	}
}

// PlaceLimitOrder implements place_order for the resting-book path: it
// first consults the congestion breaker (§4.9), gating overflow into
// commit/reveal rather than rejecting outright, then places the order on
// that market's book.
func (e *Engine) PlaceLimitOrder(o *orderbook.Order) error {
	if !e.monitor.AllowOrderSubmission() {
		return fmt.Errorf("engine place order: %w: route through commit/reveal", errs.ErrRateLimited)
	}
	slot := e.slotFor(o.MarketID)
	return slot.book.PlaceLimit(o)
}

// CancelOrder implements cancel_order.
func (e *Engine) CancelOrder(marketID types.MarketID, orderID types.OrderID) error {
	slot := e.slotFor(marketID)
	return slot.book.Cancel(orderID)
}

// PlaceStopOrder implements place_order for kind=Stop: the order rests in
// the book's stop set. No engine path calls CheckStopTriggers, so the
// engine itself never fires a resting stop order.
func (e *Engine) PlaceStopOrder(o *orderbook.Order) error {
	if !e.monitor.AllowOrderSubmission() {
		return fmt.Errorf("engine place stop order: %w: route through commit/reveal", errs.ErrRateLimited)
	}
	return e.slotFor(o.MarketID).book.PlaceStop(o)
}

// PlaceDarkOrder implements place_order for kind=Dark: the order is
// gated by minimum size and never exposed on the public book (§4.6).
func (e *Engine) PlaceDarkOrder(o *orderbook.Order) error {
	return e.slotFor(o.MarketID).darkPool.Submit(o)
}

// MatchDarkPool finds a hidden opposing order for a taker at the
// market's current midpoint, improved toward the taker by the pool's
// configured bps (§4.6). Caller fills both sides via FillDarkOrder once
// it applies the trade.
func (e *Engine) MatchDarkPool(marketID types.MarketID, outcomeIdx int, takerSide types.Side, takerSize fixedpoint.Fixed) (*orderbook.Order, types.Bps, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return nil, 0, err
	}
	m.RLock()
	mid := m.CurrentPrice
	m.RUnlock()
	return e.slotFor(marketID).darkPool.Match(marketID, outcomeIdx, takerSide, takerSize, mid)
}

// FillDarkOrder records a fill against a matched hidden order.
func (e *Engine) FillDarkOrder(marketID types.MarketID, orderID types.OrderID, filled fixedpoint.Fixed) error {
	return e.slotFor(marketID).darkPool.Fill(orderID, filled)
}

// PlaceIcebergOrder implements place_order for kind=Iceberg: only
// visibleSize of totalSize is ever exposed on the book at once (§4.6).
func (e *Engine) PlaceIcebergOrder(o *orderbook.Order, visibleSize, totalSize fixedpoint.Fixed) (*orderbook.Iceberg, error) {
	slot := e.slotFor(o.MarketID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	ice, err := orderbook.NewIceberg(slot.book, o, visibleSize, totalSize)
	if err != nil {
		return nil, err
	}
	slot.icebergs[o.ID] = ice
	return ice, nil
}

// FillIcebergSlice records a fill against an iceberg's active visible
// slice and, once that slice is exhausted, synchronously posts the next
// one until total_size is reached.
func (e *Engine) FillIcebergSlice(marketID types.MarketID, parentID types.OrderID, filled fixedpoint.Fixed) error {
	slot := e.slotFor(marketID)
	slot.mu.Lock()
	ice, ok := slot.icebergs[parentID]
	slot.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine fill iceberg slice: %w", errs.ErrOrderNotFound)
	}
	if err := slot.book.Fill(ice.ActiveSliceID(), filled); err != nil {
		return err
	}
	return ice.OnSliceFilled(slot.book, filled)
}

// PlaceTWAPOrder implements place_order for kind=TWAP: total_size is
// divided into equal child slices released one per ExecuteTWAPInterval
// call (§4.6).
func (e *Engine) PlaceTWAPOrder(o *orderbook.Order, intervals int, durationSlots, currentSlot types.Slot) (*orderbook.TWAPSchedule, error) {
	sched, err := orderbook.NewTWAPSchedule(o, o.Size, intervals, durationSlots, currentSlot, 10)
	if err != nil {
		return nil, err
	}
	slot := e.slotFor(o.MarketID)
	slot.mu.Lock()
	slot.twaps[o.ID] = sched
	slot.mu.Unlock()
	return sched, nil
}

// ExecuteTWAPInterval is the external invocation §4.6 names: it releases
// the schedule's next eligible slice and routes it through the same AMM
// path a resting order would take once matched, rejecting early
// invocations with TWAPTooEarly and post-completion ones with
// TWAPComplete.
func (e *Engine) ExecuteTWAPInterval(marketID types.MarketID, orderID types.OrderID, currentSlot types.Slot) (types.TradeResult, error) {
	slot := e.slotFor(marketID)
	slot.mu.Lock()
	sched, ok := slot.twaps[orderID]
	slot.mu.Unlock()
	if !ok {
		return types.TradeResult{}, fmt.Errorf("engine execute twap interval: %w", errs.ErrOrderNotFound)
	}

	size, err := sched.ExecuteInterval(currentSlot)
	if err != nil {
		return types.TradeResult{}, err
	}

	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return types.TradeResult{}, err
	}
	m.Lock()
	defer m.Unlock()

	trade, err := amm.Trade(m, sched.Parent.OutcomeIdx, size, sched.Parent.Side == types.Buy, 0)
	if err != nil {
		return types.TradeResult{}, err
	}
	if filled, ferr := sched.Parent.FilledSize.Add(size); ferr == nil {
		sched.Parent.FilledSize = filled
	}
	if sched.ExecutedIntervals >= sched.Intervals {
		sched.Parent.Status = types.OrderFilled
	} else {
		sched.Parent.Status = types.OrderPartiallyFilled
	}
	e.afterTrade(marketID, m, currentSlot)
	return trade, nil
}

// DrainCommitRevealBatch implements the reveal-side atomic batch
// boundary of §4.6: every commitment revealed as of currentSlot is
// placed onto the book in deterministic commitment-hash order, each
// succeeding or failing independently (never partially applied).
type BatchPlacement struct {
	Hash    types.CommitmentHash
	OrderID types.OrderID
	Err     error
}

func (e *Engine) DrainCommitRevealBatch(marketID types.MarketID, currentSlot types.Slot) []BatchPlacement {
	slot := e.slotFor(marketID)
	batch := slot.commitReveal.DrainBatch(currentSlot)
	results := make([]BatchPlacement, 0, len(batch))
	for _, entry := range batch {
		orderID := types.OrderID(fmt.Sprintf("batch-%x", entry.Hash[:8]))
		o := &orderbook.Order{
			ID:          orderID,
			UserID:      entry.Payload.UserID,
			MarketID:    entry.Payload.MarketID,
			OutcomeIdx:  entry.Payload.OutcomeIdx,
			Side:        entry.Payload.Side,
			Kind:        types.OrderLimit,
			LimitPrice:  entry.Payload.LimitPrice,
			Size:        entry.Payload.Size,
			CreatedSlot: currentSlot,
		}
		err := slot.book.PlaceLimit(o)
		results = append(results, BatchPlacement{Hash: entry.Hash, OrderID: orderID, Err: err})
	}
	return results
}

// CommitOrder implements commit_order: the sealed-bid path used once the
// congestion gate redirects new submissions away from the open book.
func (e *Engine) CommitOrder(marketID types.MarketID, hash types.CommitmentHash, submitter types.UserID, currentSlot types.Slot) error {
	return e.slotFor(marketID).commitReveal.Commit(hash, submitter, currentSlot)
}

// RevealOrder implements reveal_order.
func (e *Engine) RevealOrder(marketID types.MarketID, payload orderbook.OrderPayload, salt []byte, currentSlot types.Slot) error {
	return e.slotFor(marketID).commitReveal.Reveal(payload, salt, currentSlot)
}

// PushOraclePrice implements push_oracle_price: the signed feed update is
// ingested through the oracle breaker (§4.11) so a verification failure
// counts toward tripping it the same way a flaky upstream call would.
func (e *Engine) PushOraclePrice(push oracle.PricePush, currentSlot types.Slot) error {
	rec, err := e.oracles.MustGet(push.MarketID)
	if err != nil {
		return err
	}
	return e.oracleBreaker.Ingest(func() error {
		return rec.Accept(push, currentSlot)
	})
}

// ResolveMarket implements resolve_market.
func (e *Engine) ResolveMarket(marketID types.MarketID, currentSlot types.Slot) (*settlement.Record, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return nil, err
	}
	rec, err := e.oracles.MustGet(marketID)
	if err != nil {
		return nil, err
	}
	m.Lock()
	defer m.Unlock()
	return settlement.Resolve(e.settlements, m, rec, currentSlot)
}

// DisputeMarket re-opens a pending settlement for arbitration.
func (e *Engine) DisputeMarket(marketID types.MarketID) error {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	return settlement.Dispute(e.settlements, m)
}

// ArbitrateMarket fixes a disputed market's winning outcome.
func (e *Engine) ArbitrateMarket(marketID types.MarketID, winningOutcome int, currentSlot types.Slot) error {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	return settlement.Arbitrate(e.settlements, m, winningOutcome, currentSlot)
}

// FinalizeAndSettle implements the tail of §4.11: finalize the dispute
// window, then settle every open position synchronously (no per-user
// claim action).
func (e *Engine) FinalizeAndSettle(marketID types.MarketID, currentSlot types.Slot) ([]settlement.SettlePositionResult, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return nil, err
	}
	m.Lock()
	defer m.Unlock()

	rec, err := settlement.Finalize(e.settlements, m, currentSlot)
	if err != nil {
		return nil, err
	}

	var results []settlement.SettlePositionResult
	for posID := range m.OpenPositionIndex {
		result, err := settlement.SettlePosition(e.positions, m, e.global, rec, posID)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// LiquidateBatch implements liquidate_batch: drains up to the keeper's
// per-batch cap from the queue, then feeds the touched count into the
// solvency monitor's surge breaker (§4.9's co-owned view).
func (e *Engine) LiquidateBatch(marketID types.MarketID, currentSlot types.Slot) ([]liquidation.Result, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return nil, err
	}
	m.Lock()
	defer m.Unlock()

	results, err := liquidation.RunBatch(e.liquidationQueue, e.positions, m, e.global, e.cooldowns, e.liquidationCfg, currentSlot, e.keeperStats)
	e.monitor.RecordLiquidations(marketID, currentSlot, len(results))
	return results, err
}

// KeeperStats returns a point-in-time snapshot of the batch runner's
// aggregate activity, for admin/observability use (e.g. cmd/versectl).
func (e *Engine) KeeperStats() liquidation.KeeperStats {
	return e.keeperStats.Snapshot()
}

// Deposit implements deposit: applies the amount toward the bootstrap
// target and, once it completes, the caller (cmd/versectl or the façade)
// should follow up with AllocateMMT.
func (e *Engine) Deposit(owner types.UserID, amount types.Micros, currentSlot types.Slot) (completed bool) {
	e.global.Lock()
	e.global.ApplyVaultDeltaLocked(int64(amount))
	e.global.Unlock()
	return e.guard.RecordDeposit(owner, amount, currentSlot)
}

// Withdraw implements withdraw: checked against the vampire-attack guard
// before the vault balance is debited.
func (e *Engine) Withdraw(owner types.UserID, amount types.Micros, currentSlot types.Slot) error {
	if err := e.guard.CheckWithdrawal(owner, amount, currentSlot); err != nil {
		return err
	}
	e.global.Lock()
	e.global.ApplyVaultDeltaLocked(-int64(amount))
	e.global.Unlock()
	e.guard.RecordWithdrawal(owner, amount, currentSlot)
	return nil
}

// AllocateMMT distributes the completed bootstrap phase's MMT allocation.
func (e *Engine) AllocateMMT() map[types.UserID]types.Micros {
	return e.guard.AllocateMMT()
}

// Quote prices a trade without mutating state, for read-path callers
// (quote display, pre-trade slippage estimates).
func (e *Engine) Quote(marketID types.MarketID, outcomeIdx int, delta fixedpoint.Fixed, isBuy bool) (fixedpoint.Fixed, error) {
	m, err := e.markets.MustGet(marketID)
	if err != nil {
		return fixedpoint.Zero, err
	}
	m.RLock()
	defer m.RUnlock()
	return amm.Quote(m, outcomeIdx, delta, isBuy)
}

// Markets exposes the market registry for read-only iteration by callers
// (the dashboard/CLI), e.g. listing markets due for resolution.
func (e *Engine) Markets() *market.Registry { return e.markets }

// Positions exposes the position registry for read-only iteration.
func (e *Engine) Positions() *position.Registry { return e.positions }

// Global exposes the GlobalConfig singleton for snapshot/display callers.
func (e *Engine) Global() *market.GlobalConfig { return e.global }
