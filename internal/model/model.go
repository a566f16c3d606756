// Package model defines the core domain types shared across the executor.
// All monetary values and quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision enumeration values.
const (
	DecisionEnter = "enter"
	DecisionSkip  = "skip"
)

// Position sides as delivered by the decision source.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Decision is the inbound signed document from the decision source.
// It is immutable once received: either fully accepted (produces a Trade)
// or fully rejected with no side effects beyond the audit log.
type Decision struct {
	TS            time.Time       `json:"ts"`
	Symbol        string          `json:"symbol"` // slash form, e.g. "HYPE/USDT"
	Decision      string          `json:"decision"`
	AllowNew      bool            `json:"allow_new_trades"`
	Side          string          `json:"side"`
	Confidence    decimal.Decimal `json:"confidence"`
	Reasons       []string        `json:"reasons"`
	DeniedReasons []string        `json:"denied_reasons"`
	RiskPlan      *RiskPlan       `json:"risk_plan,omitempty"`

	// Auxiliary metadata, opaque to execution logic. Kept as raw maps so the
	// ledger records exactly what the decision source sent.
	Compliance map[string]any `json:"compliance,omitempty"`
	Scores     map[string]any `json:"scores,omitempty"`
	RR         map[string]any `json:"rr,omitempty"`
}

// RiskPlan is the declarative entry/stop/take-profit structure of an
// enter-decision.
type RiskPlan struct {
	PositionUSD      decimal.Decimal `json:"position_usd"`
	MaxRiskPctEquity decimal.Decimal `json:"max_risk_pct_equity"`
	EntryPlan        EntryPlan       `json:"entry_plan"`
	StopLoss         decimal.Decimal `json:"stop_loss"`
	TakeProfits      []TakeProfit    `json:"take_profits"`
	Trail            *Trail          `json:"trail,omitempty"`
}

// Entry order types.
const (
	EntryMarket = "market"
	EntryLimit  = "limit"
)

// EntryPlan describes how the position is opened.
type EntryPlan struct {
	Type     string   `json:"type"` // "market" or "limit"
	Entries  []Entry  `json:"entries"`
	CancelIf CancelIf `json:"cancel_if"`
}

// Entry is one partial fill target. SizeFrac values across an entry plan
// must sum to 1.0.
type Entry struct {
	Price    decimal.Decimal `json:"price"`
	SizeFrac decimal.Decimal `json:"size_frac"`
}

// CancelIf declares a time-based cancellation for unfilled entries.
type CancelIf struct {
	TimeoutSec int `json:"timeout_sec"`
}

// TakeProfit is one partial close target. CloseFrac values must sum to ≤ 1.0.
type TakeProfit struct {
	Price     decimal.Decimal `json:"price"`
	CloseFrac decimal.Decimal `json:"close_frac"`
}

// Trail holds optional trailing-stop parameters. Opaque beyond activation:
// the exchange manages the trail once set.
type Trail struct {
	ActivationPrice decimal.Decimal `json:"activation_price"`
	CallbackPct     decimal.Decimal `json:"callback_pct"`
}

// Order roles within a trade.
const (
	RoleEntry          = "entry"
	RoleStopLoss       = "stop_loss"
	RoleTakeProfit     = "take_profit"
	RoleEmergencyClose = "emergency_close"
)

// OrderIntent is one exchange operation derived from a risk plan, not yet
// submitted. Quantity is in base-currency units, already rounded to the
// instrument's lot step.
type OrderIntent struct {
	Role       string          `json:"role"`
	Symbol     string          `json:"symbol"` // exchange form, e.g. "HYPEUSDT"
	Side       string          `json:"side"`   // exchange side: "Buy" or "Sell"
	Type       string          `json:"type"`   // "Market" or "Limit"
	Price      decimal.Decimal `json:"price,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReduceOnly bool            `json:"reduce_only"`

	// CloseFrac applies to protective intents: their final quantity is
	// CloseFrac × realized entry fill, resolved by the sequencer once fills
	// are observed. Entry intents carry Quantity directly.
	CloseFrac decimal.Decimal `json:"close_frac,omitempty"`

	// CancelAfter is the entry cancellation deadline; zero means no deadline.
	CancelAfter time.Duration `json:"-"`
}

// Trade lifecycle states. pending → submitting → terminal.
const (
	TradePending           = "pending"
	TradeSubmitting        = "submitting"
	TradeExecuted          = "executed"
	TradePartiallyExecuted = "partially_executed"
	TradeFailed            = "failed"
	TradeSkipped           = "skipped"
)

// TerminalState reports whether s is a terminal trade state.
func TerminalState(s string) bool {
	switch s {
	case TradeExecuted, TradePartiallyExecuted, TradeFailed, TradeSkipped:
		return true
	}
	return false
}

// Trade is the execution-lifecycle record for one accepted enter-decision,
// created exactly once per idempotency key.
type Trade struct {
	ID             string    `json:"trade_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	State          string    `json:"state"`
	Orders         []Order   `json:"orders"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Order statuses as tracked locally. The exchange owns authoritative order
// state; these are a cache of the last observed status.
const (
	OrderFilled   = "filled"
	OrderResting  = "resting"
	OrderCanceled = "canceled"
	OrderFailed   = "failed"
)

// Order is the result of submitting one OrderIntent.
type Order struct {
	OrderID       string          `json:"order_id,omitempty"` // exchange-assigned
	Role          string          `json:"role"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price,omitempty"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	Error         string          `json:"error,omitempty"`
}
