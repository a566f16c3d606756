// Package riskplan converts a validated risk plan into ordered exchange
// order intents, using live instrument metadata for lot and tick sizing.
// All numeric derivations use decimal arithmetic so floating-point error can
// never move a rounded lot or tick boundary.
package riskplan

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/exchange"
	"github.com/quantrella/trade-executor/internal/model"
)

var (
	// ErrInvalidSymbol is returned for instrument identifiers that are not
	// slash-delimited pairs of uppercase alphanumeric legs.
	ErrInvalidSymbol = errors.New("riskplan: invalid symbol format")

	// ErrUnsupportedEntryType is returned for entry plan types other than
	// market and limit.
	ErrUnsupportedEntryType = errors.New("riskplan: unsupported entry type")

	// ErrZeroQuantity is returned when the derived entry quantity rounds to
	// zero and the instrument has no minimum to clamp to.
	ErrZeroQuantity = errors.New("riskplan: derived quantity is zero")
)

// symbolRegex matches slash-delimited pairs like "HYPE/USDT".
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,12}/[A-Z0-9]{2,12}$`)

// NormalizeSymbol converts a slash-delimited instrument identifier to the
// exchange's concatenated form: "HYPE/USDT" → "HYPEUSDT".
func NormalizeSymbol(symbol string) (string, error) {
	if !symbolRegex.MatchString(symbol) {
		return "", fmt.Errorf("%w: %s (expected BASE/QUOTE)", ErrInvalidSymbol, symbol)
	}
	return strings.ReplaceAll(symbol, "/", ""), nil
}

// entrySide maps a decision side to the exchange side opening the position.
func entrySide(side string) string {
	if side == model.SideShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// closeSide maps a decision side to the exchange side closing the position.
func closeSide(side string) string {
	if side == model.SideShort {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

// FloorToStep rounds q down to a multiple of step. A non-positive step
// returns q unchanged.
func FloorToStep(q, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}

// QuantizeToTick rounds price to the nearest multiple of tick.
func QuantizeToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// clampQty applies the instrument's min/max order quantity bounds after lot
// rounding, matching the venue's own sizing rules.
func clampQty(q decimal.Decimal, inst *exchange.Instrument) decimal.Decimal {
	if inst.MinQty.IsPositive() && q.LessThan(inst.MinQty) {
		slog.Info("quantity clamped to instrument minimum", "symbol", inst.Symbol, "min", inst.MinQty.String())
		return inst.MinQty
	}
	if inst.MaxQty.IsPositive() && q.GreaterThan(inst.MaxQty) {
		return inst.MaxQty
	}
	return q
}

// Translate converts a validated risk plan into the ordered intent sequence
// entry → stop-loss → take-profits. Entry intents carry concrete quantities;
// protective intents carry CloseFrac and are sized by the sequencer against
// realized fills. lastPrice sizes market entries, which have no plan price.
func Translate(plan *model.RiskPlan, side, symbol string, inst *exchange.Instrument, lastPrice decimal.Decimal) ([]model.OrderIntent, error) {
	exSymbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var cancelAfter time.Duration
	if t := plan.EntryPlan.CancelIf.TimeoutSec; t > 0 {
		cancelAfter = time.Duration(t) * time.Second
	}

	var intents []model.OrderIntent

	for _, e := range plan.EntryPlan.Entries {
		intent := model.OrderIntent{
			Role:        model.RoleEntry,
			Symbol:      exSymbol,
			Side:        entrySide(side),
			CancelAfter: cancelAfter,
		}

		var sizingPrice decimal.Decimal
		switch plan.EntryPlan.Type {
		case model.EntryMarket:
			intent.Type = exchange.TypeMarket
			sizingPrice = lastPrice
			if !sizingPrice.IsPositive() {
				sizingPrice = e.Price
			}
		case model.EntryLimit:
			intent.Type = exchange.TypeLimit
			intent.Price = QuantizeToTick(e.Price, inst.TickSize)
			sizingPrice = e.Price
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntryType, plan.EntryPlan.Type)
		}

		if !sizingPrice.IsPositive() {
			return nil, fmt.Errorf("riskplan: no sizing price for %s entry", plan.EntryPlan.Type)
		}

		qty := FloorToStep(plan.PositionUSD.Mul(e.SizeFrac).Div(sizingPrice), inst.LotStep)
		qty = clampQty(qty, inst)
		if !qty.IsPositive() {
			return nil, ErrZeroQuantity
		}
		intent.Quantity = qty

		intents = append(intents, intent)
	}

	intents = append(intents, model.OrderIntent{
		Role:       model.RoleStopLoss,
		Symbol:     exSymbol,
		Side:       closeSide(side),
		Type:       exchange.TypeMarket,
		Price:      QuantizeToTick(plan.StopLoss, inst.TickSize),
		CloseFrac:  decimal.NewFromInt(1),
		ReduceOnly: true,
	})

	for _, tp := range plan.TakeProfits {
		intents = append(intents, model.OrderIntent{
			Role:       model.RoleTakeProfit,
			Symbol:     exSymbol,
			Side:       closeSide(side),
			Type:       exchange.TypeLimit,
			Price:      QuantizeToTick(tp.Price, inst.TickSize),
			CloseFrac:  tp.CloseFrac,
			ReduceOnly: true,
		})
	}

	return intents, nil
}
