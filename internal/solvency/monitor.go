package solvency

import (
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Config bundles the §4.9 breaker table's named thresholds.
type Config struct {
	PriceDeviationBps        types.Bps  // default 500 (5%)
	PriceWindowSlots         types.Slot // default 4
	PriceCooldownSlots       types.Slot // default 300
	VolumeWindowSlots        types.Slot // default 60
	VolumeStdMultiplier      int64      // default 4
	VolumeCooldownSlots      types.Slot // default 600
	CoverageHaltBps          types.Bps  // default 11000 (1.10x): below this, block new positions/leverage>1
	CoverageResumeBps        types.Bps  // default 12000 (1.20x): coverage must recover to at least this
	CoverageCriticalBps      types.Bps  // default 10000 (1.00x): below this, emergency shutdown
	CoverageCooldownSlots    types.Slot // default 450: coverage breaker's own cooldown, distinct from price/volume
	LiquidationSurgeMax      int        // per-market max_per_window, default mirrors liquidation.Config
	LiquidationCooldownSlots types.Slot // default 300
}

// DefaultConfig returns the literal thresholds named in §4.9's table.
func DefaultConfig() Config {
	return Config{
		PriceDeviationBps:        500,
		PriceWindowSlots:         4,
		PriceCooldownSlots:       300,
		VolumeWindowSlots:        60,
		VolumeStdMultiplier:      4,
		VolumeCooldownSlots:      600,
		CoverageHaltBps:          11000,
		CoverageResumeBps:        12000,
		CoverageCriticalBps:      10000,
		CoverageCooldownSlots:    450,
		LiquidationSurgeMax:      20,
		LiquidationCooldownSlots: 300,
	}
}

// priceSample is one entry in a market's sliding price-deviation window.
type priceSample struct {
	slot  types.Slot
	price types.Bps
}

// volumeSample is one entry in a market's sliding volume window, used to
// compute the baseline mean/std the spike breaker compares against.
type volumeSample struct {
	slot   types.Slot
	volume int64
}

// marketMonitor bundles the per-market breaker + sliding-window state
// that §4.9 scopes to "that market": price deviation, volume spike, and
// liquidation surge.
type marketMonitor struct {
	priceBreaker      *Breaker
	volumeBreaker     *Breaker
	liquidationBreaker *Breaker
	priceHistory      []priceSample
	volumeHistory     []volumeSample
	liquidationsInWin int
}

// Monitor evaluates every breaker in §4.9's table. It is constructed once
// per exchange and shared across all markets; each market's own state
// lives in a lazily-created marketMonitor so new markets don't need
// up-front registration.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	perMkt   map[types.MarketID]*marketMonitor
	coverage *Breaker // global: blocks new positions/leverage>1 trades
	shutdown *Breaker // global: administrative or coverage < 1.00
	congestion *TokenBucket
}

// NewMonitor constructs a Monitor with every breaker closed.
func NewMonitor(cfg Config, congestionCapacity, congestionRatePerSlot float64) *Monitor {
	return &Monitor{
		cfg:        cfg,
		perMkt:     make(map[types.MarketID]*marketMonitor),
		coverage:   NewBreaker(BreakerConfig{Name: "coverage", CooldownSlots: cfg.CoverageCooldownSlots}),
		shutdown:   NewBreaker(BreakerConfig{Name: "emergency-shutdown"}),
		congestion: NewTokenBucket(congestionCapacity, congestionRatePerSlot),
	}
}

func (m *Monitor) marketState(id types.MarketID) *marketMonitor {
	ms, ok := m.perMkt[id]
	if !ok {
		ms = &marketMonitor{
			priceBreaker:       NewBreaker(BreakerConfig{Name: "price-deviation:" + string(id), CooldownSlots: m.cfg.PriceCooldownSlots}),
			volumeBreaker:      NewBreaker(BreakerConfig{Name: "volume-spike:" + string(id), CooldownSlots: m.cfg.VolumeCooldownSlots}),
			liquidationBreaker: NewBreaker(BreakerConfig{Name: "liquidation-surge:" + string(id), CooldownSlots: m.cfg.LiquidationCooldownSlots}),
		}
		m.perMkt[id] = ms
	}
	return ms
}

// CheckTrade evaluates the price-deviation and volume-spike breakers
// against a market's latest trade, per §4.9's "evaluated on every
// trade/liquidation/oracle update" rule. It must be called with the
// market's current price and cumulative traded volume after the trade is
// applied. Returns ErrCircuitBreakerTriggered if this trade caused a trip
// (the caller still commits the trade itself — breakers gate future
// trades, not the one that tripped them, mirroring §4.9's "Halt that
// market" being an action taken *after* observing the movement).
func (m *Monitor) CheckTrade(marketID types.MarketID, currentSlot types.Slot, price types.Bps, cumulativeVolume int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.marketState(marketID)

	ms.priceHistory = append(ms.priceHistory, priceSample{slot: currentSlot, price: price})
	ms.priceHistory = evictOldPrices(ms.priceHistory, currentSlot, m.cfg.PriceWindowSlots)
	if deviationExceeds(ms.priceHistory, m.cfg.PriceDeviationBps) {
		ms.priceBreaker.Trip(currentSlot, "price deviation exceeded 5% over sliding window")
	}

	ms.volumeHistory = append(ms.volumeHistory, volumeSample{slot: currentSlot, volume: cumulativeVolume})
	ms.volumeHistory = evictOldVolume(ms.volumeHistory, currentSlot, m.cfg.VolumeWindowSlots)
	if volumeSpike(ms.volumeHistory, m.cfg.VolumeStdMultiplier) {
		ms.volumeBreaker.Trip(currentSlot, "volume exceeded baseline_mean + 4*baseline_std")
	}

	if !ms.priceBreaker.Allow(currentSlot) || !ms.volumeBreaker.Allow(currentSlot) {
		return fmt.Errorf("solvency check trade %s: %w", marketID, errs.ErrCircuitBreakerTriggered)
	}
	return nil
}

// deviationExceeds reports whether the price moved more than thresholdBps
// (relative) between the oldest and newest sample in the window.
func deviationExceeds(hist []priceSample, thresholdBps types.Bps) bool {
	if len(hist) < 2 {
		return false
	}
	oldest, newest := hist[0].price, hist[len(hist)-1].price
	if oldest == 0 {
		return false
	}
	delta := newest - oldest
	if delta < 0 {
		delta = -delta
	}
	movedBps := types.Bps(int64(delta) * int64(types.BpsScale) / int64(oldest))
	return movedBps > thresholdBps
}

func evictOldPrices(hist []priceSample, currentSlot, window types.Slot) []priceSample {
	cutoff := int64(currentSlot) - int64(window)
	i := 0
	for i < len(hist) && int64(hist[i].slot) < cutoff {
		i++
	}
	return hist[i:]
}

func evictOldVolume(hist []volumeSample, currentSlot, window types.Slot) []volumeSample {
	cutoff := int64(currentSlot) - int64(window)
	i := 0
	for i < len(hist) && int64(hist[i].slot) < cutoff {
		i++
	}
	return hist[i:]
}

// volumeSpike computes the mean/std of per-sample volume deltas in the
// window and reports whether the latest delta exceeds mean + k*std.
func volumeSpike(hist []volumeSample, k int64) bool {
	if len(hist) < 3 {
		return false
	}
	deltas := make([]int64, 0, len(hist)-1)
	for i := 1; i < len(hist); i++ {
		deltas = append(deltas, hist[i].volume-hist[i-1].volume)
	}
	var sum int64
	for _, d := range deltas {
		sum += d
	}
	mean := sum / int64(len(deltas))
	var variance int64
	for _, d := range deltas {
		diff := d - mean
		variance += diff * diff
	}
	variance /= int64(len(deltas))
	std := isqrt(variance)
	latest := deltas[len(deltas)-1]
	return latest > mean+k*std
}

// isqrt is an integer square root (Newton's method), sufficient for the
// volume-spike comparison which only needs an approximate std deviation.
func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// CheckCoverage evaluates the global coverage breaker per §4.9: trips
// when coverage_ratio < 1.10 (blocking new positions and leverage>1
// trades), and additionally force-opens the emergency shutdown breaker
// when coverage drops below 1.00. Recovery requires coverage >= 1.20 and
// goes through ResetCoverageIfRecovered, which checks that threshold itself.
func (m *Monitor) CheckCoverage(currentSlot types.Slot, coverageBps types.Bps) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if coverageBps < m.cfg.CoverageCriticalBps {
		m.shutdown.ForceOpen("coverage ratio below 1.00")
	}
	if coverageBps < m.cfg.CoverageHaltBps {
		m.coverage.Trip(currentSlot, "coverage ratio below 1.10")
	}
}

// ResetCoverageIfRecovered closes the coverage breaker once coverage has
// returned to >= 1.20 (§4.9: "until coverage >= 1.20").
func (m *Monitor) ResetCoverageIfRecovered(coverageBps types.Bps) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if coverageBps >= m.cfg.CoverageResumeBps {
		m.coverage.Reset()
	}
}

// AllowNewPosition reports whether a new position (or a leverage>1 trade)
// may open, per the coverage and emergency-shutdown breakers.
func (m *Monitor) AllowNewPosition(currentSlot types.Slot, leverage uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.shutdown.Allow(currentSlot) {
		return fmt.Errorf("solvency allow new position: %w", errs.ErrCircuitBreakerTriggered)
	}
	if leverage > 1 && !m.coverage.Allow(currentSlot) {
		return fmt.Errorf("solvency allow new position: %w", errs.ErrInsufficientCoverage)
	}
	return nil
}

// AllowTrading reports whether a given market may accept trades at all —
// the market-scoped price/volume breakers plus the global
// emergency-shutdown breaker (§4.9's shutdown action: "Halt all markets;
// permit only close/withdraw").
func (m *Monitor) AllowTrading(marketID types.MarketID, currentSlot types.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.shutdown.Allow(currentSlot) {
		return fmt.Errorf("solvency allow trading %s: %w", marketID, errs.ErrCircuitBreakerTriggered)
	}
	ms := m.marketState(marketID)
	if !ms.priceBreaker.Allow(currentSlot) || !ms.volumeBreaker.Allow(currentSlot) {
		return fmt.Errorf("solvency allow trading %s: %w", marketID, errs.ErrMarketHalted)
	}
	return nil
}

// RecordLiquidations feeds a batch's touched-count into the liquidation
// surge breaker (§4.9, co-owned with liquidation.Cooldowns — this is the
// solvency-side view used for reporting/snapshot, the actual pause
// enforcement lives in liquidation.Cooldowns which the keeper consults
// directly on the hot path).
func (m *Monitor) RecordLiquidations(marketID types.MarketID, currentSlot types.Slot, touched int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.marketState(marketID)
	if touched > m.cfg.LiquidationSurgeMax {
		ms.liquidationBreaker.Trip(currentSlot, "liquidation surge exceeded max_per_window")
	}
}

// AllowOrderSubmission gates new order submission through the congestion
// token bucket; when it is empty, callers should route the submission
// into commit/reveal instead of rejecting it outright (§4.9: "Gate new
// orders into commit/reveal").
func (m *Monitor) AllowOrderSubmission() bool {
	return m.congestion.TryTake()
}

// EmergencyShutdown is the administrative path: force the shutdown
// breaker open regardless of coverage.
func (m *Monitor) EmergencyShutdown(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown.ForceOpen(reason)
}

// Resume is the administrative path back from EmergencyShutdown.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown.Reset()
}

// Snapshot returns every breaker's Stats for observability/serialization.
func (m *Monitor) Snapshot() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Stats{m.coverage.Stats(), m.shutdown.Stats()}
	for _, ms := range m.perMkt {
		out = append(out, ms.priceBreaker.Stats(), ms.volumeBreaker.Stats(), ms.liquidationBreaker.Stats())
	}
	return out
}

// CoverageRatioBps reads a GlobalConfig's coverage ratio and converts it
// to bps for the breaker comparisons above.
func CoverageRatioBps(g *market.GlobalConfig) (types.Bps, error) {
	g.Lock()
	defer g.Unlock()
	ratio, err := g.CoverageRatioLocked()
	if err != nil {
		return 0, err
	}
	return fixedpoint.ToBps(ratio), nil
}
