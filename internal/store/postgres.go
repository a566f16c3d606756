package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities and prices are stored as NUMERIC for exact decimal
// precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (trade_id, symbol, status, raw, created_at)
		 VALUES ($1, $2, $3, $4::JSONB, $5)`,
		rec.TradeID, rec.Symbol, rec.Status, string(rec.Raw), rec.CreatedAt,
	)
	return err
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, idempotency_key, symbol, side, state, skip_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.IdempotencyKey, t.Symbol, t.Side, t.State, t.SkipReason, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}

	for seq, o := range t.Orders {
		_, err = tx.Exec(ctx,
			`INSERT INTO orders (trade_id, seq, order_id, role, symbol, side, type, status,
			                     quantity, price, executed_qty, executed_price, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
			t.ID, seq, o.OrderID, o.Role, o.Symbol, o.Side, o.Type, o.Status,
			o.Quantity.String(), o.Price.String(),
			o.ExecutedQty.String(), o.ExecutedPrice.String(), o.Error,
		)
		if err != nil {
			return fmt.Errorf("insert order %d for trade %s: %w", seq, t.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTradeByKey(ctx context.Context, key string) (*model.Trade, error) {
	var t model.Trade
	err := s.pool.QueryRow(ctx,
		`SELECT id, idempotency_key, symbol, side, state, skip_reason, created_at
		 FROM trades WHERE idempotency_key = $1`, key).
		Scan(&t.ID, &t.IdempotencyKey, &t.Symbol, &t.Side, &t.State, &t.SkipReason, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trade by key: %w", err)
	}

	if err := s.loadOrders(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, idempotency_key, symbol, side, state, skip_reason, created_at
		 FROM trades ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.IdempotencyKey, &t.Symbol, &t.Side, &t.State, &t.SkipReason, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range trades {
		if err := s.loadOrders(ctx, &trades[i]); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// loadOrders fills t.Orders in the persisted submission sequence.
func (s *PostgresStore) loadOrders(ctx context.Context, t *model.Trade) error {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, role, symbol, side, type, status,
		        quantity::TEXT, price::TEXT, executed_qty::TEXT, executed_price::TEXT, error
		 FROM orders WHERE trade_id = $1 ORDER BY seq`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Order
		var qty, price, execQty, execPrice string
		if err := rows.Scan(&o.OrderID, &o.Role, &o.Symbol, &o.Side, &o.Type, &o.Status,
			&qty, &price, &execQty, &execPrice, &o.Error); err != nil {
			return err
		}
		o.Quantity, _ = decimal.NewFromString(qty)
		o.Price, _ = decimal.NewFromString(price)
		o.ExecutedQty, _ = decimal.NewFromString(execQty)
		o.ExecutedPrice, _ = decimal.NewFromString(execPrice)
		t.Orders = append(t.Orders, o)
	}
	return rows.Err()
}
