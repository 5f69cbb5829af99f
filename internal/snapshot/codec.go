// Package snapshot implements §6's persisted-state layout: a deterministic
// byte encoding for every durable entity (GlobalConfig, Market, Position,
// Order, OracleRecord, SettlementRecord; bootstrap state has no encoding)
// with stable field order, little-endian integers, and length-prefixed collections, so two
// independent implementations given the same in-memory state produce
// bit-identical snapshots. A Postgres store persists the encoded bytes
// alongside queryable columns for the fields callers actually filter on;
// a Redis read-through cache sits in front of the hot, frequently-read,
// cheap-to-recompute OracleRecord lookups.
package snapshot

import (
	"bytes"
	"fmt"
	"io"

	"github.com/holiman/uint256"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// encoder accumulates a deterministic byte stream. Every Write* method is
// fixed-width or length-prefixed; nothing is ever written in map order.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *encoder) WriteUint64(v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
	e.buf.Write(b[:])
}

func (e *encoder) WriteInt64(v int64) { e.WriteUint64(uint64(v)) }

func (e *encoder) WriteBool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *encoder) WriteBytes(b []byte) {
	e.WriteUint64(uint64(len(b)))
	e.buf.Write(b)
}

func (e *encoder) WriteString(s string) { e.WriteBytes([]byte(s)) }

// WriteFixed writes a fixedpoint.Fixed as a sign byte followed by its
// 256-bit magnitude in little-endian byte order (Fixed.Raw's Bytes32 is
// big-endian, so the bytes are reversed on the way out and back on the way
// in — this is the one place the codec deviates from a raw memcpy, because
// §6 mandates little-endian integers across the whole persisted layout).
func (e *encoder) WriteFixed(f fixedpoint.Fixed) {
	neg, mag := f.Raw()
	b := mag.Bytes32()
	reverse32(&b)
	e.WriteBool(neg)
	e.buf.Write(b[:])
}

func (e *encoder) WriteBpsSlice(v []types.Bps) {
	e.WriteUint64(uint64(len(v)))
	for _, x := range v {
		e.WriteInt64(int64(x))
	}
}

func reverse32(b *[32]byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// decoder reads back a stream produced by encoder, failing fast on any
// truncation rather than returning a zero value silently.
type decoder struct {
	r *bytes.Reader
}

func newDecoder(b []byte) *decoder { return &decoder{r: bytes.NewReader(b)} }

func (d *decoder) ReadUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, fmt.Errorf("snapshot decode uint64: %w: %v", errs.ErrInvalidInput, err)
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v, nil
}

func (d *decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

func (d *decoder) ReadBool() (bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("snapshot decode bool: %w: %v", errs.ErrInvalidInput, err)
	}
	return b != 0, nil
}

func (d *decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(d.r, out); err != nil {
		return nil, fmt.Errorf("snapshot decode bytes: %w: %v", errs.ErrInvalidInput, err)
	}
	return out, nil
}

func (d *decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	return string(b), err
}

func (d *decoder) ReadFixed() (fixedpoint.Fixed, error) {
	neg, err := d.ReadBool()
	if err != nil {
		return fixedpoint.Zero, err
	}
	var b [32]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return fixedpoint.Zero, fmt.Errorf("snapshot decode fixed: %w: %v", errs.ErrInvalidInput, err)
	}
	reverse32(&b)
	var mag uint256.Int
	mag.SetBytes32(b[:])
	return fixedpoint.FromRaw(neg, mag), nil
}

func (d *decoder) ReadBpsSlice() ([]types.Bps, error) {
	n, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	out := make([]types.Bps, n)
	for i := range out {
		v, err := d.ReadInt64()
		if err != nil {
			return nil, err
		}
		out[i] = types.Bps(v)
	}
	return out, nil
}
