package riskplan

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/model"
)

var (
	// ErrRiskLimitExceeded is returned when the plan's stop-distance risk
	// exceeds the decision's own max_risk_pct_equity bound.
	ErrRiskLimitExceeded = errors.New("riskplan: risk exceeds max_risk_pct_equity")

	// ErrNotionalLimitExceeded is returned when position_usd exceeds the
	// executor's configured notional cap.
	ErrNotionalLimitExceeded = errors.New("riskplan: position notional exceeds configured cap")
)

// Guard enforces pre-submission risk bounds. The plan's max_risk_pct_equity
// is checked against live account equity; MaxNotionalUSD is a process-wide
// cap independent of the decision source.
type Guard struct {
	// MaxNotionalUSD caps position_usd per trade. Zero disables the cap.
	MaxNotionalUSD decimal.Decimal
}

// NewGuard creates a risk guard with the given notional cap.
func NewGuard(maxNotionalUSD decimal.Decimal) *Guard {
	return &Guard{MaxNotionalUSD: maxNotionalUSD}
}

// Check validates a risk plan against account equity before any order is
// placed. equity may be zero when the venue did not report it; the equity
// fraction check is skipped in that case, the notional cap is not.
func (g *Guard) Check(plan *model.RiskPlan, equity decimal.Decimal) error {
	if g.MaxNotionalUSD.IsPositive() && plan.PositionUSD.GreaterThan(g.MaxNotionalUSD) {
		return ErrNotionalLimitExceeded
	}

	if !plan.MaxRiskPctEquity.IsPositive() || !equity.IsPositive() {
		return nil
	}

	// Risk at stop: Σ over entries of qty_i × |entry_i − stop|, with
	// qty_i = position_usd × size_frac_i / entry_i.
	risk := decimal.Zero
	for _, e := range plan.EntryPlan.Entries {
		if !e.Price.IsPositive() {
			continue
		}
		qty := plan.PositionUSD.Mul(e.SizeFrac).Div(e.Price)
		risk = risk.Add(qty.Mul(e.Price.Sub(plan.StopLoss).Abs()))
	}

	if risk.GreaterThan(equity.Mul(plan.MaxRiskPctEquity)) {
		return ErrRiskLimitExceeded
	}
	return nil
}
