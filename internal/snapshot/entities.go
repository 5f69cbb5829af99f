package snapshot

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/orderbook"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/pkg/types"
)

// schemaVersion is written as the first field of every encoded entity so a
// future field addition can be detected and rejected rather than silently
// misread.
const schemaVersion uint64 = 1

// EncodeGlobalConfig serializes the genesis/runtime-mutated singleton
// record. Field order: epoch, season, vault_balance, total_open_interest,
// fee_base_bps, fee_slope_bps, halt_flag, then the leverage tier table.
func EncodeGlobalConfig(g *market.GlobalConfig, epoch, season uint64, tiers []market.LeverageTier) []byte {
	g.Lock()
	defer g.Unlock()
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteUint64(epoch)
	e.WriteUint64(season)
	e.WriteUint64(uint64(g.VaultBalance))
	e.WriteUint64(uint64(g.TotalOpenInterest))
	e.WriteInt64(int64(g.FeeBaseBps))
	e.WriteInt64(int64(g.FeeSlopeBps))
	e.WriteBool(g.HaltFlag)
	e.WriteUint64(uint64(len(tiers)))
	for _, t := range tiers {
		e.WriteInt64(int64(t.MinCoverageBps))
		e.WriteUint64(uint64(t.MaxLeverage))
	}
	return e.Bytes()
}

// DecodedGlobalConfig is the flat result of decoding an encoded
// GlobalConfig row; the caller rebuilds a *market.GlobalConfig from it via
// market.NewGlobalConfig and then assigns the exported VaultBalance and
// TotalOpenInterest fields directly.
type DecodedGlobalConfig struct {
	Epoch             uint64
	Season            uint64
	VaultBalance      types.Micros
	TotalOpenInterest types.Micros
	FeeBaseBps        types.Bps
	FeeSlopeBps       types.Bps
	HaltFlag          bool
	LeverageTiers     []market.LeverageTier
}

func DecodeGlobalConfig(b []byte) (DecodedGlobalConfig, error) {
	d := newDecoder(b)
	if err := checkVersion(d); err != nil {
		return DecodedGlobalConfig{}, err
	}
	var out DecodedGlobalConfig
	var err error
	if out.Epoch, err = d.ReadUint64(); err != nil {
		return out, err
	}
	if out.Season, err = d.ReadUint64(); err != nil {
		return out, err
	}
	vb, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.VaultBalance = types.Micros(vb)
	oi, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.TotalOpenInterest = types.Micros(oi)
	fb, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.FeeBaseBps = types.Bps(fb)
	fs, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.FeeSlopeBps = types.Bps(fs)
	if out.HaltFlag, err = d.ReadBool(); err != nil {
		return out, err
	}
	n, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.LeverageTiers = make([]market.LeverageTier, n)
	for i := range out.LeverageTiers {
		minCov, err := d.ReadInt64()
		if err != nil {
			return out, err
		}
		maxLev, err := d.ReadUint64()
		if err != nil {
			return out, err
		}
		out.LeverageTiers[i] = market.LeverageTier{MinCoverageBps: types.Bps(minCov), MaxLeverage: uint32(maxLev)}
	}
	return out, nil
}

func checkVersion(d *decoder) error {
	v, err := d.ReadUint64()
	if err != nil {
		return err
	}
	if v != schemaVersion {
		return fmt.Errorf("snapshot decode: %w: unknown schema version %d", errs.ErrInvalidInput, v)
	}
	return nil
}

// EncodeMarket serializes a Market's full state: identity, kind, price
// vector, shares, liquidity param, volume/liquidity totals, lifecycle
// state, resolution, and (for L2-AMM) the bin table. Caller must hold m's
// read lock.
func EncodeMarket(m *market.Market) []byte {
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteString(string(m.ID))
	e.WriteString(m.VerseID)
	e.WriteInt64(int64(m.Kind))
	e.WriteInt64(int64(m.OutcomeCount))
	e.WriteBpsSlice(m.PriceVector)
	e.WriteUint64(uint64(len(m.Shares)))
	for _, s := range m.Shares {
		e.WriteFixed(s)
	}
	e.WriteFixed(m.LiquidityParam)
	e.WriteUint64(uint64(m.TotalVolume))
	e.WriteUint64(uint64(m.TotalLiquidity))
	e.WriteInt64(int64(m.CurrentPrice))
	e.WriteInt64(int64(m.State))
	e.WriteUint64(uint64(m.SettleSlot))
	e.WriteUint64(uint64(m.CreatedSlot))
	e.WriteInt64(int64(m.ResolutionIndex))
	e.WriteBool(m.ResolutionSet)
	e.WriteFixed(m.MinValue)
	e.WriteFixed(m.MaxValue)
	e.WriteUint64(uint64(len(m.Outcomes)))
	for _, o := range m.Outcomes {
		e.WriteInt64(int64(o.BinIndex))
		e.WriteFixed(o.LowerValue)
		e.WriteFixed(o.UpperValue)
		e.WriteInt64(int64(o.ProbabilityWeight))
	}
	return e.Bytes()
}

// DecodedMarket mirrors market.Market's persisted fields; OpenPositionIndex
// is deliberately not part of the encoding (§9: it's a derived index, not
// durable state — the caller rebuilds it from the position registry).
type DecodedMarket struct {
	ID              types.MarketID
	VerseID         string
	Kind            types.MarketKind
	OutcomeCount    int
	PriceVector     []types.Bps
	Shares          []fixedpoint.Fixed
	LiquidityParam  fixedpoint.Fixed
	TotalVolume     types.Micros
	TotalLiquidity  types.Micros
	CurrentPrice    types.Bps
	State           types.MarketState
	SettleSlot      types.Slot
	CreatedSlot     types.Slot
	ResolutionIndex int
	ResolutionSet   bool
	MinValue        fixedpoint.Fixed
	MaxValue        fixedpoint.Fixed
	Outcomes        []market.Outcome
}

func DecodeMarket(b []byte) (DecodedMarket, error) {
	d := newDecoder(b)
	var out DecodedMarket
	if err := checkVersion(d); err != nil {
		return out, err
	}
	idStr, err := d.ReadString()
	if err != nil {
		return out, err
	}
	out.ID = types.MarketID(idStr)
	if out.VerseID, err = d.ReadString(); err != nil {
		return out, err
	}
	kind, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.Kind = types.MarketKind(kind)
	oc, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.OutcomeCount = int(oc)
	if out.PriceVector, err = d.ReadBpsSlice(); err != nil {
		return out, err
	}
	n, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.Shares = make([]fixedpoint.Fixed, n)
	for i := range out.Shares {
		if out.Shares[i], err = d.ReadFixed(); err != nil {
			return out, err
		}
	}
	if out.LiquidityParam, err = d.ReadFixed(); err != nil {
		return out, err
	}
	tv, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.TotalVolume = types.Micros(tv)
	tl, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.TotalLiquidity = types.Micros(tl)
	cp, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.CurrentPrice = types.Bps(cp)
	st, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.State = types.MarketState(st)
	ss, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.SettleSlot = types.Slot(ss)
	cs, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.CreatedSlot = types.Slot(cs)
	ri, err := d.ReadInt64()
	if err != nil {
		return out, err
	}
	out.ResolutionIndex = int(ri)
	if out.ResolutionSet, err = d.ReadBool(); err != nil {
		return out, err
	}
	if out.MinValue, err = d.ReadFixed(); err != nil {
		return out, err
	}
	if out.MaxValue, err = d.ReadFixed(); err != nil {
		return out, err
	}
	on, err := d.ReadUint64()
	if err != nil {
		return out, err
	}
	out.Outcomes = make([]market.Outcome, on)
	for i := range out.Outcomes {
		bi, err := d.ReadInt64()
		if err != nil {
			return out, err
		}
		lower, err := d.ReadFixed()
		if err != nil {
			return out, err
		}
		upper, err := d.ReadFixed()
		if err != nil {
			return out, err
		}
		pw, err := d.ReadInt64()
		if err != nil {
			return out, err
		}
		out.Outcomes[i] = market.Outcome{BinIndex: int(bi), LowerValue: lower, UpperValue: upper, ProbabilityWeight: types.Bps(pw)}
	}
	return out, nil
}

// EncodePosition serializes one leveraged position.
func EncodePosition(p *position.Position) []byte {
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteString(string(p.ID))
	e.WriteString(string(p.Owner))
	e.WriteString(string(p.MarketID))
	e.WriteInt64(int64(p.OutcomeIdx))
	e.WriteFixed(p.Size)
	e.WriteFixed(p.MarginLocked)
	e.WriteUint64(uint64(p.Leverage))
	e.WriteInt64(int64(p.EntryPrice))
	e.WriteInt64(int64(p.LiquidationPx))
	e.WriteBool(p.IsLong)
	e.WriteFixed(p.UnrealizedPnL)
	e.WriteFixed(p.FundingAccrued)
	e.WriteInt64(int64(p.Status))
	e.WriteUint64(uint64(p.OpenedSlot))
	e.WriteFixed(p.PartialLiqAccumulated)
	return e.Bytes()
}

func DecodePosition(b []byte) (*position.Position, error) {
	d := newDecoder(b)
	if err := checkVersion(d); err != nil {
		return nil, err
	}
	p := &position.Position{}
	idStr, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	p.ID = types.PositionID(idStr)
	owner, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	p.Owner = types.UserID(owner)
	mkt, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	p.MarketID = types.MarketID(mkt)
	oi, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	p.OutcomeIdx = int(oi)
	if p.Size, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	if p.MarginLocked, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	lev, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	p.Leverage = uint32(lev)
	ep, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	p.EntryPrice = types.Bps(ep)
	lp, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	p.LiquidationPx = types.Bps(lp)
	if p.IsLong, err = d.ReadBool(); err != nil {
		return nil, err
	}
	if p.UnrealizedPnL, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	if p.FundingAccrued, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	status, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	p.Status = types.PositionStatus(status)
	slot, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	p.OpenedSlot = types.Slot(slot)
	if p.PartialLiqAccumulated, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeOrder serializes one resting book order.
func EncodeOrder(o *orderbook.Order) []byte {
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteString(string(o.ID))
	e.WriteString(string(o.UserID))
	e.WriteString(string(o.MarketID))
	e.WriteInt64(int64(o.OutcomeIdx))
	e.WriteInt64(int64(o.Side))
	e.WriteInt64(int64(o.Kind))
	e.WriteInt64(int64(o.Status))
	e.WriteInt64(int64(o.TIF))
	e.WriteInt64(int64(o.LimitPrice))
	e.WriteFixed(o.Size)
	e.WriteFixed(o.FilledSize)
	e.WriteUint64(uint64(o.CreatedSlot))
	e.WriteUint64(uint64(o.Deadline))
	return e.Bytes()
}

func DecodeOrder(b []byte) (*orderbook.Order, error) {
	d := newDecoder(b)
	if err := checkVersion(d); err != nil {
		return nil, err
	}
	o := &orderbook.Order{}
	idStr, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	o.ID = types.OrderID(idStr)
	user, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	o.UserID = types.UserID(user)
	mkt, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	o.MarketID = types.MarketID(mkt)
	oi, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	o.OutcomeIdx = int(oi)
	side, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	o.Side = types.Side(side)
	kind, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	o.Kind = types.OrderKind(kind)
	status, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	o.Status = types.OrderStatus(status)
	tif, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	o.TIF = types.TimeInForce(tif)
	lp, err := d.ReadInt64()
	if err != nil {
		return nil, err
	}
	o.LimitPrice = types.Bps(lp)
	if o.Size, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	if o.FilledSize, err = d.ReadFixed(); err != nil {
		return nil, err
	}
	cs, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	o.CreatedSlot = types.Slot(cs)
	dl, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	o.Deadline = types.Slot(dl)
	return o, nil
}
