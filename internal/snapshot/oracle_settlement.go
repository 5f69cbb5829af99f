package snapshot

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/0x-verse/verse-core/internal/oracle"
	"github.com/0x-verse/verse-core/internal/settlement"
	"github.com/0x-verse/verse-core/pkg/types"
)

// EncodeOracleRecord serializes an oracle.Record's externally observable
// state, as returned by Record.Snapshot, plus the market and signer it's
// bound to.
func EncodeOracleRecord(marketID types.MarketID, signer common.Address, vector []types.Bps, lastSlot types.Slot, anomaly bool) []byte {
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteString(string(marketID))
	e.WriteBytes(signer.Bytes())
	e.WriteBpsSlice(vector)
	e.WriteUint64(uint64(lastSlot))
	e.WriteBool(anomaly)
	return e.Bytes()
}

// DecodedOracleRecord is the flat result of decoding an oracle row; the
// caller rehydrates it with oracle.NewRecord and then, if anomaly was set,
// restores the rate-limit window separately since that's transient
// scheduling state, not part of the persisted price history.
type DecodedOracleRecord struct {
	MarketID types.MarketID
	Signer   common.Address
	Vector   []types.Bps
	LastSlot types.Slot
	Anomaly  bool
}

func DecodeOracleRecord(b []byte) (DecodedOracleRecord, error) {
	d := newDecoder(b)
	var out DecodedOracleRecord
	if err := checkVersion(d); err != nil {
		return out, err
	}
	idStr, err := d.ReadString()
	if err != nil {
		return out, err
	}
	out.MarketID = types.MarketID(idStr)
	signerBytes, err := d.ReadBytes()
	if err != nil {
		return out, err
	}
	out.Signer = common.BytesToAddress(signerBytes)
	if out.Vector, err = d.ReadBpsSlice(); err != nil {
		return out, err
	}
	slot, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.LastSlot = types.Slot(slot)
	if out.Anomaly, err = d.ReadBool(); err != nil {
		return out, err
	}
	return out, nil
}

// EncodeSettlementRecord serializes one market's settlement.Record.
func EncodeSettlementRecord(rec *settlement.Record) []byte {
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteString(string(rec.MarketID))
	e.WriteInt64(int64(rec.WinningOutcome))
	e.WriteUint64(uint64(rec.FinalizationSlot))
	e.WriteUint64(uint64(rec.DisputeWindowEndSlot))
	e.WriteInt64(int64(rec.State))
	return e.Bytes()
}

func DecodeSettlementRecord(b []byte) (*settlement.Record, error) {
	d := newDecoder(b)
	if err := checkVersion(d); err != nil {
		return nil, err
	}
	rec := &settlement.Record{}
	idStr, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	rec.MarketID = types.MarketID(idStr)
	winner, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	rec.WinningOutcome = int(winner)
	fs, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	rec.FinalizationSlot = types.Slot(fs)
	dw, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	rec.DisputeWindowEndSlot = types.Slot(dw)
	state, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	rec.State = types.SettlementState(state)
	return rec, nil
}

// RehydrateOracleRecord turns a decoded row back into a live *oracle.Record
// on restart. The feed's anomaly rate-limit window is transient scheduling
// state, not persisted history, so a rehydrated record always starts
// un-rate-limited even if row.Anomaly was set at snapshot time.
func RehydrateOracleRecord(row DecodedOracleRecord) *oracle.Record {
	return oracle.NewRecord(row.MarketID, row.Signer, row.Vector)
}
