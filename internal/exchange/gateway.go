// Package exchange defines the gateway boundary to the trading venue and
// its implementations: a live Bybit v5 client and an acknowledgment-only
// no-op used when credentials are absent.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Gateway is the exchange boundary. The exchange owns authoritative order
// state; everything returned here is the last observed snapshot.
type Gateway interface {
	// SupportsLiveOrders reports whether this gateway can place real orders.
	// When false the sequencer acknowledges decisions without executing.
	SupportsLiveOrders() bool

	// Instrument returns contract sizing metadata for an exchange-form symbol.
	Instrument(ctx context.Context, symbol string) (*Instrument, error)

	// LastPrice returns the most recent traded price for a symbol.
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// PlaceOrder submits one order and returns the exchange's view of it.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// OrderStatus fetches the current snapshot of a previously placed order.
	OrderStatus(ctx context.Context, symbol, orderID string) (*OrderResult, error)

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// MarketClose closes qty of an open position at market, reduce-only.
	// side is the closing side ("Sell" closes a long, "Buy" closes a short).
	MarketClose(ctx context.Context, symbol, side string, qty decimal.Decimal) (*OrderResult, error)

	// AccountSummary returns the raw account snapshot plus derived equity.
	AccountSummary(ctx context.Context) (*AccountSummary, error)

	// Executions returns historical fills matching the query.
	Executions(ctx context.Context, q ExecutionsQuery) ([]json.RawMessage, error)

	// Positions returns open positions, optionally filtered by symbol.
	Positions(ctx context.Context, symbol string) ([]json.RawMessage, error)

	// OpenOrders returns active orders, optionally filtered by symbol.
	OpenOrders(ctx context.Context, symbol string) ([]json.RawMessage, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// Exchange-form order sides and types.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"

	TypeMarket = "Market"
	TypeLimit  = "Limit"
)

// Instrument holds the contract sizing metadata needed to translate a risk
// plan into concrete quantities.
type Instrument struct {
	Symbol      string
	TickSize    decimal.Decimal
	LotStep     decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MaxLeverage decimal.Decimal
}

// OrderRequest is one order submission. TriggerPrice is set for conditional
// protective orders (stop-loss); Price for limit orders.
type OrderRequest struct {
	Symbol       string
	Side         string
	Type         string
	Qty          decimal.Decimal
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	ReduceOnly   bool
}

// OrderResult is the exchange's response to a submission.
type OrderResult struct {
	OrderID       string
	Status        string // exchange status, e.g. "Filled", "New"
	ExecutedQty   decimal.Decimal
	ExecutedPrice decimal.Decimal
}

// Filled reports whether the order fully executed on submission.
func (r *OrderResult) Filled() bool {
	return r.Status == "Filled"
}

// AccountSummary is a pass-through account snapshot. Raw preserves the
// venue's exact payload for the caller; Equity is extracted for risk checks.
type AccountSummary struct {
	Raw    json.RawMessage
	Equity decimal.Decimal
}

// ExecutionsQuery filters the trade-history pass-through. Times are unix
// milliseconds; zero means unset.
type ExecutionsQuery struct {
	Symbol    string
	Limit     int
	StartTime int64
	EndTime   int64
}

// GatewayError classifies a failed exchange call. Transient failures
// (timeouts, rate limits, 5xx) are retried by the sequencer; permanent
// rejections are not.
type GatewayError struct {
	Op        string
	Code      int // venue return code or HTTP status
	Msg       string
	Transient bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("exchange: %s failed (code %d): %s", e.Op, e.Code, e.Msg)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Transient
	}
	return false
}
