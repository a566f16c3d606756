// Package store defines the ledger persistence interface for the executor.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for idempotency lookups), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quantrella/trade-executor/internal/model"
)

// ErrNotFound is returned when no record matches the query.
var ErrNotFound = errors.New("store: not found")

// DecisionRecord is the audit copy of an inbound decision document. Raw
// preserves the exact payload the decision source sent.
type DecisionRecord struct {
	TradeID   string    `json:"trade_id"`
	Symbol    string    `json:"symbol"`
	Status    string    `json:"status"` // final execution_status
	Raw       []byte    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the ledger persistence interface. The executor writes a decision
// record plus the terminal trade (with its orders) after each execute
// request; reads serve idempotent replays and the audit listing.
type Store interface {
	// InsertDecision appends the audit copy of a decision document.
	InsertDecision(ctx context.Context, rec *DecisionRecord) error

	// InsertTrade persists a trade in a terminal state with its orders.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// GetTradeByKey retrieves a trade by its idempotency key.
	// Returns ErrNotFound when no trade exists for the key.
	GetTradeByKey(ctx context.Context, key string) (*model.Trade, error)

	// ListTrades returns the most recent trades, newest first.
	ListTrades(ctx context.Context, limit int) ([]model.Trade, error)
}
