package engine

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/config"
	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/oracle"
	"github.com/0x-verse/verse-core/internal/orderbook"
	"github.com/0x-verse/verse-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Config{}
	cfg.Solvency.CoverageHaltBps = 11000
	cfg.Solvency.CoverageResumeBps = 12000
	cfg.Solvency.CoverageCriticalBps = 10000
	cfg.Solvency.PriceDeviationBps = 500
	cfg.Solvency.PriceCooldownSlots = 300
	cfg.Solvency.VolumeStdMultiplier = 4
	cfg.Solvency.VolumeCooldownSlots = 600
	cfg.Solvency.CongestionCapacity = 1000
	cfg.Solvency.CongestionRatePerSlot = 1000
	cfg.Solvency.OracleFailureThreshold = 5

	genesis := &config.GenesisConfig{
		FeeBaseBps:  30,
		FeeSlopeBps: 10,
		Tiers: []config.GenesisTier{
			{MinCoverageBps: 0, MaxLeverage: 1},
			{MinCoverageBps: 1000, MaxLeverage: 20},
		},
	}

	e := New(cfg, genesis, 0, 0, testLogger())
	e.Global().Lock()
	e.Global().VaultBalance = 10_000_000
	e.Global().Unlock()
	return e
}

func testKey(t *testing.T) ([]byte, common.Address) {
	t.Helper()
	k := make([]byte, 32)
	k[31] = 7
	priv, err := crypto.ToECDSA(k)
	require.NoError(t, err)
	return k, crypto.PubkeyToAddress(priv.PublicKey)
}

func signPush(t *testing.T, key []byte, push oracle.PricePush) []byte {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	sig, err := crypto.Sign(push.Hash().Bytes(), priv)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func TestEngineCreateMarketAndOpenClosePosition(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)
	m.TotalLiquidity = 10_000_000

	result, err := e.OpenPosition(m.ID, "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)
	require.NotNil(t, result.Position)

	closeResult, err := e.ClosePosition(m.ID, result.Position.ID, 2)
	require.NoError(t, err)
	require.GreaterOrEqual(t, int64(closeResult.Refund), int64(0))

	_, ok := e.Positions().Get(result.Position.ID)
	require.True(t, ok)
}

func TestEngineOpenPositionRejectsUnknownMarket(t *testing.T) {
	e := testEngine(t)
	_, err := e.OpenPosition("missing", "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestEnginePushOraclePriceAndResolve(t *testing.T) {
	e := testEngine(t)
	key, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
		SettleSlot:     5,
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	// Walk the price toward outcome 0 in steps that each move every
	// outcome by at most 50% of its previous price, so no push is rejected
	// as an excessive movement.
	steps := [][]types.Bps{{7400, 2600}, {8600, 1400}, {9250, 750}, {9600, 400}, {9700, 300}}
	for i, vec := range steps {
		slot := types.Slot(i + 1)
		push := oracle.PricePush{MarketID: m.ID, PriceVector: vec, Slot: slot}
		push.Signature = signPush(t, key, push)
		require.NoError(t, e.PushOraclePrice(push, slot))
	}

	rec, err := e.ResolveMarket(m.ID, 6)
	require.NoError(t, err)
	require.Equal(t, 0, rec.WinningOutcome)

	results, err := e.FinalizeAndSettle(m.ID, rec.DisputeWindowEndSlot+1)
	require.NoError(t, err)
	require.Empty(t, results) // no open positions to settle
}

func TestEnginePushOraclePriceRejectsBadSignature(t *testing.T) {
	e := testEngine(t)
	key, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	push := oracle.PricePush{MarketID: m.ID, PriceVector: []types.Bps{5100, 4900}, Slot: 1}
	otherKey := make([]byte, 32)
	otherKey[31] = 9
	push.Signature = signPush(t, otherKey, push)

	err = e.PushOraclePrice(push, 1)
	require.ErrorIs(t, err, errs.ErrInvalidOracleSignature)
	_ = key
}

func TestEnginePlaceAndCancelOrder(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	order := &orderbook.Order{
		ID:         "o1",
		UserID:     "user1",
		MarketID:   m.ID,
		OutcomeIdx: 0,
		Side:       types.Buy,
		Kind:       types.OrderLimit,
		LimitPrice: 5000,
		Size:       fixedpoint.FromInt64(100),
	}
	require.NoError(t, e.PlaceLimitOrder(order))
	require.NoError(t, e.CancelOrder(m.ID, order.ID))

	err = e.CancelOrder(m.ID, order.ID)
	require.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestEngineCommitRevealOrderFlow(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	payload := orderbook.OrderPayload{
		UserID:     "user1",
		MarketID:   m.ID,
		OutcomeIdx: 0,
		Side:       types.Buy,
		Size:       fixedpoint.FromInt64(100),
		LimitPrice: 5000,
	}
	salt := []byte("salt-bytes-000000000000000000000")
	hash := orderbook.HashCommitment(payload, salt)

	require.NoError(t, e.CommitOrder(m.ID, hash, "user1", 10))

	err = e.RevealOrder(m.ID, payload, salt, 10)
	require.ErrorIs(t, err, errs.ErrTooEarlyToReveal)

	require.NoError(t, e.RevealOrder(m.ID, payload, salt, 16))
}

func TestEngineDepositAndWithdraw(t *testing.T) {
	e := testEngine(t)
	before := e.Global().VaultBalance

	completed := e.Deposit("user1", 1_000, 1)
	require.True(t, completed) // target is 0 in this test engine, so any deposit completes bootstrap

	e.Global().Lock()
	after := e.Global().VaultBalance
	e.Global().Unlock()
	require.Equal(t, before+1_000, after)

	require.NoError(t, e.Withdraw("user1", 500, 2))
}

func TestEngineIcebergRefreshesUntilExhausted(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	parent := &orderbook.Order{
		ID:         "ice1",
		UserID:     "user1",
		MarketID:   m.ID,
		OutcomeIdx: 0,
		Side:       types.Sell,
		Kind:       types.OrderIceberg,
		LimitPrice: 5000,
		Size:       fixedpoint.FromInt64(10_000),
		CreatedSlot: 1,
	}
	ice, err := e.PlaceIcebergOrder(parent, fixedpoint.FromInt64(500), fixedpoint.FromInt64(10_000))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, e.FillIcebergSlice(m.ID, parent.ID, fixedpoint.FromInt64(500)))
	}
	require.True(t, ice.IsComplete())
}

func TestEngineTWAPRejectsEarlyAndExecutesOnSchedule(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	parent := &orderbook.Order{
		ID:         "twap1",
		UserID:     "user1",
		MarketID:   m.ID,
		OutcomeIdx: 0,
		Side:       types.Buy,
		Kind:       types.OrderTWAP,
		Size:       fixedpoint.FromInt64(1_000),
		CreatedSlot: 0,
	}
	_, err = e.PlaceTWAPOrder(parent, 4, 40, 0)
	require.NoError(t, err)

	_, err = e.ExecuteTWAPInterval(m.ID, parent.ID, 1)
	require.ErrorIs(t, err, errs.ErrTWAPTooEarly)

	_, err = e.ExecuteTWAPInterval(m.ID, parent.ID, 10)
	require.NoError(t, err)
	require.Equal(t, types.OrderPartiallyFilled, parent.Status)
}

func TestEngineCommitRevealBatchExecutesInHashOrder(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	payloadA := orderbook.OrderPayload{UserID: "a", MarketID: m.ID, OutcomeIdx: 0, Side: types.Buy, Size: fixedpoint.FromInt64(100), LimitPrice: 5000}
	payloadB := orderbook.OrderPayload{UserID: "b", MarketID: m.ID, OutcomeIdx: 0, Side: types.Sell, Size: fixedpoint.FromInt64(100), LimitPrice: 5100}
	saltA, saltB := []byte("salt-a-000000000000000000000000"), []byte("salt-b-000000000000000000000000")

	require.NoError(t, e.CommitOrder(m.ID, orderbook.HashCommitment(payloadA, saltA), "a", 0))
	require.NoError(t, e.CommitOrder(m.ID, orderbook.HashCommitment(payloadB, saltB), "b", 0))
	require.NoError(t, e.RevealOrder(m.ID, payloadA, saltA, 6))
	require.NoError(t, e.RevealOrder(m.ID, payloadB, saltB, 6))

	results := e.DrainCommitRevealBatch(m.ID, 6)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	require.True(t, bytes.Compare(results[0].Hash[:], results[1].Hash[:]) < 0)
}

func TestEngineDarkPoolMatchesAtMidpoint(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	resting := &orderbook.Order{
		ID:         "dark1",
		UserID:     "maker",
		MarketID:   m.ID,
		OutcomeIdx: 0,
		Side:       types.Sell,
		Kind:       types.OrderDark,
		Size:       fixedpoint.FromInt64(500),
		CreatedSlot: 1,
	}
	require.NoError(t, e.PlaceDarkOrder(resting))

	matched, price, err := e.MatchDarkPool(m.ID, 0, types.Buy, fixedpoint.FromInt64(200))
	require.NoError(t, err)
	require.NotNil(t, matched)
	require.Equal(t, types.OrderID("dark1"), matched.ID)
	require.True(t, price > 0)

	require.NoError(t, e.FillDarkOrder(m.ID, matched.ID, fixedpoint.FromInt64(200)))
}

func TestEngineQuoteReadsWithoutMutating(t *testing.T) {
	e := testEngine(t)
	_, signer := testKey(t)

	m, err := e.CreateMarket(market.Spec{
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	}, signer, []types.Bps{5000, 5000})
	require.NoError(t, err)

	cost, err := e.Quote(m.ID, 0, fixedpoint.FromInt64(10_000), true)
	require.NoError(t, err)
	require.False(t, cost.IsNeg())

	got, ok := e.Markets().Get(m.ID)
	require.True(t, ok)
	require.Equal(t, types.Bps(5000), got.PriceVector[0]) // unchanged: Quote doesn't mutate
}
