package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/orderbook"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/internal/settlement"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Store is the Postgres-backed durable-state repository: one row per
// entity, keyed by its natural ID, with the deterministic encoding from
// codec.go in a single bytea payload column plus a handful of queryable
// columns (state, slot) so callers can filter without decoding every row.
// Every call runs under a context-scoped timeout, writes upsert via ON
// CONFLICT, and pq.Error codes distinguish a constraint violation from a
// transport failure.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an already-connected sqlx.DB.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// PutGlobalConfig upserts the singleton genesis/runtime record.
func (s *Store) PutGlobalConfig(ctx context.Context, g *market.GlobalConfig, epoch, season uint64, tiers []market.LeverageTier) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := EncodeGlobalConfig(g, epoch, season, tiers)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_config (id, epoch, payload)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET epoch = EXCLUDED.epoch, payload = EXCLUDED.payload`,
		epoch, payload)
	if err != nil {
		return wrapPQError("put global config", err)
	}
	return nil
}

// GetGlobalConfig loads the singleton record, or a zero value and
// sql.ErrNoRows if genesis hasn't run yet.
func (s *Store) GetGlobalConfig(ctx context.Context) (DecodedGlobalConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT payload FROM global_config WHERE id = 1`).Scan(&payload)
	if err != nil {
		return DecodedGlobalConfig{}, wrapPQError("get global config", err)
	}
	return DecodeGlobalConfig(payload)
}

// PutMarket upserts one market's full state.
func (s *Store) PutMarket(ctx context.Context, m *market.Market) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m.RLock()
	payload := EncodeMarket(m)
	id, state, settleSlot := m.ID, m.State, m.SettleSlot
	m.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (id, state, settle_slot, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, settle_slot = EXCLUDED.settle_slot, payload = EXCLUDED.payload`,
		string(id), int(state), uint64(settleSlot), payload)
	if err != nil {
		return wrapPQError("put market", err)
	}
	return nil
}

// GetMarket loads one market's state by ID.
func (s *Store) GetMarket(ctx context.Context, id types.MarketID) (DecodedMarket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT payload FROM markets WHERE id = $1`, string(id)).Scan(&payload)
	if err != nil {
		return DecodedMarket{}, wrapPQError("get market", err)
	}
	return DecodeMarket(payload)
}

// ListMarketsByState returns every market in a given lifecycle state,
// newest settle_slot first — used on restart to find markets due for
// resolution.
func (s *Store) ListMarketsByState(ctx context.Context, state types.MarketState) ([]DecodedMarket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT payload FROM markets WHERE state = $1 ORDER BY settle_slot DESC`, int(state))
	if err != nil {
		return nil, wrapPQError("list markets by state", err)
	}
	defer rows.Close()

	var out []DecodedMarket
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("snapshot scan market row: %w", err)
		}
		m, err := DecodeMarket(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot iterate market rows: %w", err)
	}
	return out, nil
}

// PutPosition upserts one position's state.
func (s *Store) PutPosition(ctx context.Context, p *position.Position) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := EncodePosition(p)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, market_id, owner, status, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload`,
		string(p.ID), string(p.MarketID), string(p.Owner), int(p.Status), payload)
	if err != nil {
		return wrapPQError("put position", err)
	}
	return nil
}

// GetPosition loads one position by ID.
func (s *Store) GetPosition(ctx context.Context, id types.PositionID) (*position.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT payload FROM positions WHERE id = $1`, string(id)).Scan(&payload)
	if err != nil {
		return nil, wrapPQError("get position", err)
	}
	return DecodePosition(payload)
}

// ListOpenPositionsByMarket loads every open position on a market, for
// rebuilding a market's in-memory OpenPositionIndex on restart.
func (s *Store) ListOpenPositionsByMarket(ctx context.Context, marketID types.MarketID) ([]*position.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT payload FROM positions WHERE market_id = $1 AND status = $2`,
		string(marketID), int(types.PositionOpen))
	if err != nil {
		return nil, wrapPQError("list open positions", err)
	}
	defer rows.Close()

	var out []*position.Position
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("snapshot scan position row: %w", err)
		}
		p, err := DecodePosition(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot iterate position rows: %w", err)
	}
	return out, nil
}

// PutOrder upserts one resting order.
func (s *Store) PutOrder(ctx context.Context, o *orderbook.Order) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := EncodeOrder(o)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, market_id, status, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload`,
		string(o.ID), string(o.MarketID), int(o.Status), payload)
	if err != nil {
		return wrapPQError("put order", err)
	}
	return nil
}

// PutSettlementRecord upserts one market's resolution record.
func (s *Store) PutSettlementRecord(ctx context.Context, rec *settlement.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := EncodeSettlementRecord(rec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (market_id, state, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_id) DO UPDATE SET state = EXCLUDED.state, payload = EXCLUDED.payload`,
		string(rec.MarketID), int(rec.State), payload)
	if err != nil {
		return wrapPQError("put settlement record", err)
	}
	return nil
}

// GetSettlementRecord loads one market's settlement record, or
// (nil, sql.ErrNoRows) if it hasn't resolved yet.
func (s *Store) GetSettlementRecord(ctx context.Context, marketID types.MarketID) (*settlement.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT payload FROM settlements WHERE market_id = $1`, string(marketID)).Scan(&payload)
	if err != nil {
		return nil, wrapPQError("get settlement record", err)
	}
	return DecodeSettlementRecord(payload)
}

// wrapPQError distinguishes a unique-constraint violation (code 23505,
// which an upsert should never actually hit but guards against a schema
// mismatch) from sql.ErrNoRows (passed through unwrapped so callers can
// check it directly) and every other transport/driver failure.
func wrapPQError(op string, err error) error {
	if err == sql.ErrNoRows {
		return err
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return fmt.Errorf("snapshot %s: duplicate key: %w", op, err)
	}
	return fmt.Errorf("snapshot %s: %w", op, err)
}
