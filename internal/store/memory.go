package store

import (
	"context"
	"sync"

	"github.com/quantrella/trade-executor/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	decisions []DecisionRecord
	trades    []model.Trade
	byKey     map[string]int // idempotency key → index into trades
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]int),
	}
}

func (s *MemoryStore) InsertDecision(_ context.Context, rec *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions = append(s.decisions, *rec)
	return nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *trade
	cp.Orders = append([]model.Order(nil), trade.Orders...)
	s.trades = append(s.trades, cp)
	if trade.IdempotencyKey != "" {
		s.byKey[trade.IdempotencyKey] = len(s.trades) - 1
	}
	return nil
}

func (s *MemoryStore) GetTradeByKey(_ context.Context, key string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s.trades[idx]
	cp.Orders = append([]model.Order(nil), s.trades[idx].Orders...)
	return &cp, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		cp := s.trades[i]
		cp.Orders = append([]model.Order(nil), s.trades[i].Orders...)
		out = append(out, cp)
	}
	return out, nil
}

// Decisions returns the recorded decision audit entries. Test helper.
func (s *MemoryStore) Decisions() []DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DecisionRecord(nil), s.decisions...)
}
