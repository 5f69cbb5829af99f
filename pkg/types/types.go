// Package types defines the shared vocabulary used across the exchange
// core — market/outcome identifiers, order and position enums, and the
// fixed-point conventions every package agrees on. It has no dependency
// on any other internal package so it can be imported from any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Units
// ————————————————————————————————————————————————————————————————————————

// Micros is an unsigned integer micro-unit (10⁻⁶) of the collateral asset.
// All monetary quantities in the core are expressed this way; there is no
// floating point at any module boundary.
type Micros uint64

// Bps is a basis-point quantity (1/10 000). Prices and probabilities live
// here: a market's price vector always sums to 10 000.
type Bps int64

// BpsScale is the denominator for Bps values (100% = 10 000 bps).
const BpsScale Bps = 10_000

// Slot is the platform's discrete time unit. All timeouts, windows, and
// settle times are expressed in slots rather than wall-clock time.
type Slot uint64

// ————————————————————————————————————————————————————————————————————————
// IDs
// ————————————————————————————————————————————————————————————————————————

type MarketID string
type PositionID string
type OrderID string
type UserID string
type CommitmentHash [32]byte

// ————————————————————————————————————————————————————————————————————————
// Market
// ————————————————————————————————————————————————————————————————————————

// MarketKind selects which AMM engine services a market. Fixed at
// creation; the hybrid router never infers it.
type MarketKind int

const (
	KindLMSR MarketKind = iota
	KindPMAMM
	KindL2AMM
)

func (k MarketKind) String() string {
	switch k {
	case KindLMSR:
		return "LMSR"
	case KindPMAMM:
		return "PM-AMM"
	case KindL2AMM:
		return "L2-AMM"
	default:
		return "UNKNOWN"
	}
}

// MarketState is the lifecycle of a Market. Transitions are monotone
// except Disputed -> Resolving (arbitration re-opens resolution).
type MarketState int

const (
	MarketActive MarketState = iota
	MarketPaused
	MarketResolving
	MarketResolved
	MarketDisputed
)

func (s MarketState) String() string {
	switch s {
	case MarketActive:
		return "Active"
	case MarketPaused:
		return "Paused"
	case MarketResolving:
		return "Resolving"
	case MarketResolved:
		return "Resolved"
	case MarketDisputed:
		return "Disputed"
	default:
		return "Unknown"
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders and positions
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of a trade or position.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) Sign() int64 {
	if s == Buy {
		return 1
	}
	return -1
}

// OrderKind enumerates the order types the book accepts.
type OrderKind int

const (
	OrderMarket OrderKind = iota
	OrderLimit
	OrderStop
	OrderIceberg
	OrderTWAP
	OrderDark
)

// OrderStatus is the lifecycle of a resting order.
type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce int

const (
	TIFGoodTilCancelled TimeInForce = iota
	TIFImmediateOrCancel
)

// PositionStatus is the lifecycle of a leveraged position.
type PositionStatus int

const (
	PositionOpen PositionStatus = iota
	PositionClosed
	PositionLiquidated
)

// SettlementState is the lifecycle of a market's resolution record.
type SettlementState int

const (
	SettlementPending SettlementState = iota
	SettlementDisputed
	SettlementFinal
)

// TradeResult is the common return shape of every AMM trade: the size
// filled, the price debited/credited, and the fee charged, all in the
// core's integer units.
type TradeResult struct {
	FilledSize Micros
	Cost       Micros // debit on buy, credit on sell
	FeeCharged Micros
	NewPrices  []Bps // full post-trade price vector
}

// Now returns the current wall-clock time. Exists so callers have a single
// seam to stub in tests; production code always uses it over time.Now
// directly inside domain packages that need a timestamp for non-slot state
// (e.g. cache TTLs).
var Now = time.Now
