package decision_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/decision"
	"github.com/quantrella/trade-executor/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// validEnter returns a decision that passes validation; tests mutate it.
func validEnter() *model.Decision {
	return &model.Decision{
		TS:         time.Now().UTC(),
		Symbol:     "HYPE/USDT",
		Decision:   model.DecisionEnter,
		AllowNew:   true,
		Side:       model.SideLong,
		Confidence: d(0.72),
		RiskPlan: &model.RiskPlan{
			PositionUSD:      d(500),
			MaxRiskPctEquity: d(0.01),
			EntryPlan: model.EntryPlan{
				Type: model.EntryLimit,
				Entries: []model.Entry{
					{Price: d(41.1), SizeFrac: d(0.6)},
					{Price: d(40.9), SizeFrac: d(0.4)},
				},
				CancelIf: model.CancelIf{TimeoutSec: 300},
			},
			StopLoss: d(40.3),
			TakeProfits: []model.TakeProfit{
				{Price: d(41.7), CloseFrac: d(0.5)},
				{Price: d(42.4), CloseFrac: d(0.5)},
			},
		},
	}
}

func fieldMessages(t *testing.T, err error) []string {
	t.Helper()
	var verr *decision.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	msgs := make([]string, len(verr.Fields))
	for i, f := range verr.Fields {
		msgs[i] = f.String()
	}
	return msgs
}

func hasField(msgs []string, field string) bool {
	for _, m := range msgs {
		if strings.HasPrefix(m, field+":") {
			return true
		}
	}
	return false
}

func TestValidate_AcceptsWellFormedEnter(t *testing.T) {
	if err := decision.Validate(validEnter()); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}
}

func TestValidate_AcceptsSkipWithoutPlan(t *testing.T) {
	doc := &model.Decision{
		TS:       time.Now().UTC(),
		Symbol:   "BTC/USDT",
		Decision: model.DecisionSkip,
	}
	if err := decision.Validate(doc); err != nil {
		t.Fatalf("skip decision should not require a risk plan: %v", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	doc := &model.Decision{}
	msgs := fieldMessages(t, decision.Validate(doc))

	for _, field := range []string{"ts", "symbol", "decision"} {
		if !hasField(msgs, field) {
			t.Errorf("expected failure on %q, got %v", field, msgs)
		}
	}
}

func TestValidate_UnknownEnums(t *testing.T) {
	doc := validEnter()
	doc.Decision = "maybe"
	if msgs := fieldMessages(t, decision.Validate(doc)); !hasField(msgs, "decision") {
		t.Errorf("unknown decision value should fail, got %v", msgs)
	}

	doc = validEnter()
	doc.Side = "sideways"
	if msgs := fieldMessages(t, decision.Validate(doc)); !hasField(msgs, "side") {
		t.Errorf("unknown side value should fail, got %v", msgs)
	}
}

func TestValidate_EnterRequiresRiskPlan(t *testing.T) {
	doc := validEnter()
	doc.RiskPlan = nil
	msgs := fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan") {
		t.Errorf("expected risk_plan failure, got %v", msgs)
	}
}

func TestValidate_SizeFracSum(t *testing.T) {
	doc := validEnter()
	doc.RiskPlan.EntryPlan.Entries[0].SizeFrac = d(0.6)
	doc.RiskPlan.EntryPlan.Entries[1].SizeFrac = d(0.3) // sums to 0.9
	msgs := fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan.entry_plan.entries") {
		t.Errorf("size_frac sum 0.9 should fail, got %v", msgs)
	}

	// Within tolerance passes.
	doc = validEnter()
	doc.RiskPlan.EntryPlan.Entries[0].SizeFrac = d(0.6000000004)
	doc.RiskPlan.EntryPlan.Entries[1].SizeFrac = d(0.3999999999)
	if err := decision.Validate(doc); err != nil {
		t.Errorf("size_frac sum within 1e-6 should pass: %v", err)
	}
}

func TestValidate_CloseFracSum(t *testing.T) {
	doc := validEnter()
	doc.RiskPlan.TakeProfits[0].CloseFrac = d(0.7)
	doc.RiskPlan.TakeProfits[1].CloseFrac = d(0.4) // sums to 1.1
	msgs := fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan.take_profits") {
		t.Errorf("close_frac sum 1.1 should fail, got %v", msgs)
	}
}

func TestValidate_StopOnWrongSide(t *testing.T) {
	doc := validEnter() // long
	doc.RiskPlan.StopLoss = d(41.5) // above an entry
	msgs := fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan.stop_loss") {
		t.Errorf("stop above entry should fail for long, got %v", msgs)
	}

	doc = validEnter()
	doc.Side = model.SideShort
	// Entries at 41.1/40.9, stop at 40.3 is below — wrong for a short.
	msgs = fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan.stop_loss") {
		t.Errorf("stop below entry should fail for short, got %v", msgs)
	}
}

func TestValidate_NonPositivePrices(t *testing.T) {
	doc := validEnter()
	doc.RiskPlan.EntryPlan.Entries[0].Price = decimal.Zero
	msgs := fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan.entry_plan.entries[0].price") {
		t.Errorf("zero entry price should fail, got %v", msgs)
	}

	doc = validEnter()
	doc.RiskPlan.PositionUSD = d(-10)
	msgs = fieldMessages(t, decision.Validate(doc))
	if !hasField(msgs, "risk_plan.position_usd") {
		t.Errorf("negative position_usd should fail, got %v", msgs)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	if _, err := decision.Decode([]byte(`{"decision":`)); !errors.Is(err, decision.ErrMalformedJSON) {
		t.Errorf("expected ErrMalformedJSON, got %v", err)
	}
	if _, err := decision.Decode([]byte(`{"confidence":"very"}`)); !errors.Is(err, decision.ErrMalformedJSON) {
		t.Errorf("wrongly typed field should fail decode, got %v", err)
	}
}

func TestDecode_SlashSymbolDocument(t *testing.T) {
	raw := []byte(`{
		"ts": "2026-08-30T10:00:00Z",
		"symbol": "HYPE/USDT",
		"decision": "enter",
		"allow_new_trades": true,
		"side": "long",
		"confidence": 0.8,
		"reasons": ["momentum"],
		"risk_plan": {
			"position_usd": 500,
			"max_risk_pct_equity": 0.01,
			"entry_plan": {"type": "limit", "entries": [{"price": 41.1, "size_frac": 1.0}], "cancel_if": {"timeout_sec": 120}},
			"stop_loss": 40.3,
			"take_profits": [{"price": 41.7, "close_frac": 1.0}]
		}
	}`)

	doc, err := decision.Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := decision.Validate(doc); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if doc.Symbol != "HYPE/USDT" {
		t.Errorf("unexpected symbol %q", doc.Symbol)
	}
	if doc.RiskPlan.EntryPlan.CancelIf.TimeoutSec != 120 {
		t.Errorf("unexpected timeout %d", doc.RiskPlan.EntryPlan.CancelIf.TimeoutSec)
	}
}
