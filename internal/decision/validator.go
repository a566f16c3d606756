// Package decision decodes and validates inbound decision documents.
// Validation fails closed: any violation rejects the whole document with the
// offending fields enumerated, and nothing downstream ever sees a partially
// valid decision.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/model"
)

// ErrMalformedJSON is returned by Decode when the body is not valid JSON or
// carries wrongly typed fields.
var ErrMalformedJSON = errors.New("decision: malformed JSON body")

// sizeFracTolerance is the allowed deviation of sum(size_frac) from 1.0.
var sizeFracTolerance = decimal.NewFromFloat(1e-6)

// FieldError describes a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// ValidationError aggregates all field failures for one document.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return "decision: validation failed: " + strings.Join(msgs, "; ")
}

// Decode parses raw bytes into a typed Decision. It does not validate
// semantics; call Validate on the result.
func Decode(raw []byte) (*model.Decision, error) {
	var d model.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return &d, nil
}

// Validate checks a decoded Decision against the document contract.
// Returns nil when the document is acceptable, or a *ValidationError listing
// every violated field. Pure function, no side effects.
func Validate(d *model.Decision) error {
	var fields []FieldError
	add := func(field, format string, args ...any) {
		fields = append(fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if d.TS.IsZero() {
		add("ts", "required")
	}
	if d.Symbol == "" {
		add("symbol", "required")
	} else if !strings.Contains(d.Symbol, "/") {
		add("symbol", "must be slash-delimited, e.g. BTC/USDT")
	}

	switch d.Decision {
	case model.DecisionEnter, model.DecisionSkip:
	case "":
		add("decision", "required")
	default:
		add("decision", "must be one of enter, skip")
	}

	if d.Decision == model.DecisionEnter {
		switch d.Side {
		case model.SideLong, model.SideShort:
		case "":
			add("side", "required for enter decisions")
		default:
			add("side", "must be one of long, short")
		}

		if d.RiskPlan == nil {
			add("risk_plan", "required for enter decisions")
		} else {
			fields = append(fields, validatePlan(d.RiskPlan, d.Side)...)
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// validatePlan checks the internal consistency of a risk plan against the
// decision's side.
func validatePlan(p *model.RiskPlan, side string) []FieldError {
	var fields []FieldError
	add := func(field, format string, args ...any) {
		fields = append(fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !p.PositionUSD.IsPositive() {
		add("risk_plan.position_usd", "must be > 0, got %s", p.PositionUSD)
	}
	if p.MaxRiskPctEquity.IsNegative() {
		add("risk_plan.max_risk_pct_equity", "must be >= 0, got %s", p.MaxRiskPctEquity)
	}

	switch p.EntryPlan.Type {
	case model.EntryMarket, model.EntryLimit:
	case "":
		add("risk_plan.entry_plan.type", "required")
	default:
		add("risk_plan.entry_plan.type", "must be one of market, limit")
	}

	if len(p.EntryPlan.Entries) == 0 {
		add("risk_plan.entry_plan.entries", "at least one entry required")
	}

	fracSum := decimal.Zero
	for i, e := range p.EntryPlan.Entries {
		if !e.Price.IsPositive() {
			add(fmt.Sprintf("risk_plan.entry_plan.entries[%d].price", i), "must be > 0, got %s", e.Price)
		}
		if !e.SizeFrac.IsPositive() {
			add(fmt.Sprintf("risk_plan.entry_plan.entries[%d].size_frac", i), "must be > 0, got %s", e.SizeFrac)
		}
		fracSum = fracSum.Add(e.SizeFrac)
	}
	if len(p.EntryPlan.Entries) > 0 {
		if fracSum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(sizeFracTolerance) {
			add("risk_plan.entry_plan.entries", "size_frac must sum to 1.0, got %s", fracSum)
		}
	}

	if p.EntryPlan.CancelIf.TimeoutSec < 0 {
		add("risk_plan.entry_plan.cancel_if.timeout_sec", "must be >= 0, got %d", p.EntryPlan.CancelIf.TimeoutSec)
	}

	if !p.StopLoss.IsPositive() {
		add("risk_plan.stop_loss", "must be > 0, got %s", p.StopLoss)
	} else {
		// The stop must protect: below every entry for long, above for short.
		for i, e := range p.EntryPlan.Entries {
			if !e.Price.IsPositive() {
				continue
			}
			if side == model.SideLong && p.StopLoss.GreaterThanOrEqual(e.Price) {
				add("risk_plan.stop_loss", "must be below entry price %s for long (entry %d)", e.Price, i)
			}
			if side == model.SideShort && p.StopLoss.LessThanOrEqual(e.Price) {
				add("risk_plan.stop_loss", "must be above entry price %s for short (entry %d)", e.Price, i)
			}
		}
	}

	closeSum := decimal.Zero
	for i, tp := range p.TakeProfits {
		if !tp.Price.IsPositive() {
			add(fmt.Sprintf("risk_plan.take_profits[%d].price", i), "must be > 0, got %s", tp.Price)
		}
		if !tp.CloseFrac.IsPositive() {
			add(fmt.Sprintf("risk_plan.take_profits[%d].close_frac", i), "must be > 0, got %s", tp.CloseFrac)
		}
		closeSum = closeSum.Add(tp.CloseFrac)
	}
	if closeSum.GreaterThan(decimal.NewFromInt(1)) {
		add("risk_plan.take_profits", "close_frac must sum to <= 1.0, got %s", closeSum)
	}

	return fields
}
