package oracle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/pkg/types"
)

func signPush(t *testing.T, key []byte, push PricePush) []byte {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	sig, err := crypto.Sign(push.Hash().Bytes(), priv)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func testKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	k[31] = 1
	return k
}

func TestAcceptAppliesValidSignedPush(t *testing.T) {
	key := testKey(t)
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(priv.PublicKey)

	rec := NewRecord("m1", signer, []types.Bps{5000, 5000})

	push := PricePush{MarketID: "m1", PriceVector: []types.Bps{5100, 4900}, Slot: 1}
	push.Signature = signPush(t, key, push)

	require.NoError(t, rec.Accept(push, 1))
	vector, lastSlot, anomaly := rec.Snapshot()
	require.Equal(t, []types.Bps{5100, 4900}, vector)
	require.Equal(t, types.Slot(1), lastSlot)
	require.False(t, anomaly)
}

func TestAcceptRejectsWrongSigner(t *testing.T) {
	key := testKey(t)
	otherKey := make([]byte, 32)
	otherKey[31] = 2
	otherPriv, err := crypto.ToECDSA(otherKey)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(otherPriv.PublicKey)

	rec := NewRecord("m1", signer, []types.Bps{5000, 5000})
	push := PricePush{MarketID: "m1", PriceVector: []types.Bps{5100, 4900}, Slot: 1}
	push.Signature = signPush(t, key, push)

	err = rec.Accept(push, 1)
	require.ErrorIs(t, err, errs.ErrInvalidOracleSignature)
}

func TestAcceptRejectsStaleUpdate(t *testing.T) {
	key := testKey(t)
	priv, _ := crypto.ToECDSA(key)
	signer := crypto.PubkeyToAddress(priv.PublicKey)
	rec := NewRecord("m1", signer, []types.Bps{5000, 5000})

	push := PricePush{MarketID: "m1", PriceVector: []types.Bps{5100, 4900}, Slot: 5}
	push.Signature = signPush(t, key, push)
	require.NoError(t, rec.Accept(push, 5))

	stale := PricePush{MarketID: "m1", PriceVector: []types.Bps{5200, 4800}, Slot: 5}
	stale.Signature = signPush(t, key, stale)
	err := rec.Accept(stale, 6)
	require.ErrorIs(t, err, errs.ErrStalePriceUpdate)
}

func TestAcceptFlagsExcessiveMovementAndRateLimits(t *testing.T) {
	key := testKey(t)
	priv, _ := crypto.ToECDSA(key)
	signer := crypto.PubkeyToAddress(priv.PublicKey)
	rec := NewRecord("m1", signer, []types.Bps{5000, 5000})

	push := PricePush{MarketID: "m1", PriceVector: []types.Bps{9000, 1000}, Slot: 1}
	push.Signature = signPush(t, key, push)
	err := rec.Accept(push, 1)
	require.ErrorIs(t, err, errs.ErrExcessivePriceMovement)

	_, _, anomaly := rec.Snapshot()
	require.True(t, anomaly)

	retry := PricePush{MarketID: "m1", PriceVector: []types.Bps{5100, 4900}, Slot: 2}
	retry.Signature = signPush(t, key, retry)
	err = rec.Accept(retry, 2)
	require.ErrorIs(t, err, errs.ErrExcessivePriceMovement) // still rate-limited
}

func TestArgmaxOutcomeRequiresConfidence(t *testing.T) {
	rec := NewRecord("m1", common.Address{}, []types.Bps{6000, 4000})
	_, err := rec.ArgmaxOutcome(9500)
	require.ErrorIs(t, err, errs.ErrConflictingResolution)

	rec2 := NewRecord("m1", common.Address{}, []types.Bps{9600, 400})
	winner, err := rec2.ArgmaxOutcome(9500)
	require.NoError(t, err)
	require.Equal(t, 0, winner)
}
