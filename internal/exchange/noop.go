package exchange

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned by the acknowledgment-only gateway for any
// operation that would require exchange credentials.
var ErrUnavailable = errors.New("exchange: trading unavailable, credentials not configured")

// Acknowledge is the no-op Gateway used when exchange credentials are
// absent. SupportsLiveOrders is false, so the sequencer acknowledges enter
// decisions as skipped instead of silently pretending to execute.
type Acknowledge struct{}

// NewAcknowledge creates the acknowledgment-only gateway.
func NewAcknowledge() *Acknowledge { return &Acknowledge{} }

func (*Acknowledge) SupportsLiveOrders() bool { return false }

func (*Acknowledge) Instrument(context.Context, string) (*Instrument, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, ErrUnavailable
}

func (*Acknowledge) PlaceOrder(context.Context, OrderRequest) (*OrderResult, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) OrderStatus(context.Context, string, string) (*OrderResult, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) CancelOrder(context.Context, string, string) error {
	return ErrUnavailable
}

func (*Acknowledge) MarketClose(context.Context, string, string, decimal.Decimal) (*OrderResult, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) AccountSummary(context.Context) (*AccountSummary, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) Executions(context.Context, ExecutionsQuery) ([]json.RawMessage, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) Positions(context.Context, string) ([]json.RawMessage, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) OpenOrders(context.Context, string) ([]json.RawMessage, error) {
	return nil, ErrUnavailable
}

func (*Acknowledge) Ping(context.Context) error { return ErrUnavailable }
