package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/0x-verse/verse-core/internal/oracle"
	"github.com/0x-verse/verse-core/pkg/types"
)

// OracleCache is a read-through Redis cache in front of a caller-supplied
// loader for OracleRecord lookups (Store has no oracle-record table): the
// feed is hot (every accepted push is a candidate read for the next
// trade's quote) and cheap to reload on a miss, so a short TTL is safe — unlike Market or Position
// state, which the engine keeps resident in memory and never re-reads
// from cold storage on the hot path.
type OracleCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOracleCache wraps an already-connected redis client.
func NewOracleCache(rdb *redis.Client, ttl time.Duration) *OracleCache {
	return &OracleCache{rdb: rdb, ttl: ttl}
}

func cacheKey(marketID types.MarketID) string {
	return fmt.Sprintf("oracle:%s", marketID)
}

// Get returns the cached record, or (false, nil) on a clean miss.
func (c *OracleCache) Get(ctx context.Context, marketID types.MarketID) (DecodedOracleRecord, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(marketID)).Bytes()
	if err == redis.Nil {
		return DecodedOracleRecord{}, false, nil
	}
	if err != nil {
		return DecodedOracleRecord{}, false, fmt.Errorf("oracle cache get %s: %w", marketID, err)
	}
	row, err := DecodeOracleRecord(raw)
	if err != nil {
		return DecodedOracleRecord{}, false, err
	}
	return row, true, nil
}

// Put writes the current record state, overwriting any prior entry.
func (c *OracleCache) Put(ctx context.Context, marketID types.MarketID, signer common.Address, vector []types.Bps, lastSlot types.Slot, anomaly bool) error {
	payload := EncodeOracleRecord(marketID, signer, vector, lastSlot, anomaly)
	if err := c.rdb.Set(ctx, cacheKey(marketID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("oracle cache put %s: %w", marketID, err)
	}
	return nil
}

// Invalidate drops a market's cached record so the next GetOrLoad goes to
// its loader instead of serving the cached snapshot.
func (c *OracleCache) Invalidate(ctx context.Context, marketID types.MarketID) error {
	if err := c.rdb.Del(ctx, cacheKey(marketID)).Err(); err != nil {
		return fmt.Errorf("oracle cache invalidate %s: %w", marketID, err)
	}
	return nil
}

// GetOrLoad is the read-through entrypoint: it checks the cache first,
// falling back to the caller-supplied loader on a miss and re-populating
// the cache before returning.
func (c *OracleCache) GetOrLoad(ctx context.Context, marketID types.MarketID, loader func(context.Context, types.MarketID) (DecodedOracleRecord, error)) (*oracle.Record, error) {
	if row, hit, err := c.Get(ctx, marketID); err != nil {
		return nil, err
	} else if hit {
		return RehydrateOracleRecord(row), nil
	}
	row, err := loader(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, marketID, row.Signer, row.Vector, row.LastSlot, row.Anomaly); err != nil {
		return nil, err
	}
	return RehydrateOracleRecord(row), nil
}
