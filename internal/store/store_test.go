package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/model"
	"github.com/quantrella/trade-executor/internal/store"
)

func sampleTrade(key string) *model.Trade {
	return &model.Trade{
		ID:             "trade-" + key,
		IdempotencyKey: key,
		Symbol:         "HYPEUSDT",
		Side:           model.SideLong,
		State:          model.TradeExecuted,
		CreatedAt:      time.Now().UTC(),
		Orders: []model.Order{
			{
				OrderID:       "ord-1",
				Role:          model.RoleEntry,
				Symbol:        "HYPEUSDT",
				Side:          "Buy",
				Type:          "Market",
				Status:        model.OrderFilled,
				Quantity:      decimal.RequireFromString("12.1"),
				ExecutedQty:   decimal.RequireFromString("12.1"),
				ExecutedPrice: decimal.RequireFromString("41.12"),
			},
			{
				OrderID:  "ord-2",
				Role:     model.RoleStopLoss,
				Symbol:   "HYPEUSDT",
				Side:     "Sell",
				Type:     "Market",
				Status:   model.OrderResting,
				Quantity: decimal.RequireFromString("12.1"),
				Price:    decimal.RequireFromString("40.3"),
			},
		},
	}
}

func TestMemoryStore_TradeRoundTrip(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.InsertTrade(ctx, sampleTrade("k1")); err != nil {
		t.Fatalf("InsertTrade failed: %v", err)
	}

	got, err := ms.GetTradeByKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetTradeByKey failed: %v", err)
	}
	if got.ID != "trade-k1" || got.State != model.TradeExecuted {
		t.Errorf("unexpected trade: %+v", got)
	}
	if len(got.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(got.Orders))
	}
	// Order sequence must be preserved: entry before protective.
	if got.Orders[0].Role != model.RoleEntry || got.Orders[1].Role != model.RoleStopLoss {
		t.Errorf("order sequence not preserved: %s, %s", got.Orders[0].Role, got.Orders[1].Role)
	}
}

func TestMemoryStore_UnknownKey(t *testing.T) {
	ms := store.NewMemoryStore()

	_, err := ms.GetTradeByKey(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.InsertTrade(ctx, sampleTrade("k1"))

	got, _ := ms.GetTradeByKey(ctx, "k1")
	got.Orders[0].Status = model.OrderFailed

	again, _ := ms.GetTradeByKey(ctx, "k1")
	if again.Orders[0].Status != model.OrderFilled {
		t.Error("mutation of a returned trade leaked into the store")
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.InsertTrade(ctx, sampleTrade("k1"))
	ms.InsertTrade(ctx, sampleTrade("k2"))
	ms.InsertTrade(ctx, sampleTrade("k3"))

	trades, err := ms.ListTrades(ctx, 2)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].IdempotencyKey != "k3" || trades[1].IdempotencyKey != "k2" {
		t.Errorf("expected newest first, got %s, %s", trades[0].IdempotencyKey, trades[1].IdempotencyKey)
	}
}

func TestMemoryStore_DecisionAudit(t *testing.T) {
	ms := store.NewMemoryStore()

	rec := &store.DecisionRecord{
		TradeID:   "trade-1",
		Symbol:    "HYPE/USDT",
		Status:    model.TradeSkipped,
		Raw:       []byte(`{"decision":"skip"}`),
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.InsertDecision(context.Background(), rec); err != nil {
		t.Fatalf("InsertDecision failed: %v", err)
	}

	decisions := ms.Decisions()
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision record, got %d", len(decisions))
	}
	if decisions[0].Status != model.TradeSkipped {
		t.Errorf("status = %s, want skipped", decisions[0].Status)
	}
}
