package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantrella/trade-executor/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache on idempotency-key lookups. A replayed decision resolves from Redis
// without touching the primary; writes go to the primary and populate the
// cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	return s.primary.InsertDecision(ctx, rec)
}

func (s *CachedStore) InsertTrade(ctx context.Context, trade *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, trade); err != nil {
		return err
	}
	s.cacheTrade(ctx, trade)
	return nil
}

func (s *CachedStore) GetTradeByKey(ctx context.Context, key string) (*model.Trade, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, tradeKey(key)).Bytes()
	if err == nil {
		var t model.Trade
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	// Cache miss: read from primary.
	t, err := s.primary.GetTradeByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	s.cacheTrade(ctx, t)
	return t, nil
}

// ListTrades is not cached: the audit listing is rare and must be fresh.
func (s *CachedStore) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, limit)
}

func (s *CachedStore) cacheTrade(ctx context.Context, t *model.Trade) {
	if t.IdempotencyKey == "" {
		return
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, tradeKey(t.IdempotencyKey), data, s.ttl)
	}
}

func tradeKey(key string) string { return fmt.Sprintf("trade:key:%s", key) }
