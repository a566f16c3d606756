// Package sequencer executes accepted enter-decisions against the exchange
// gateway: entries first, protective orders strictly after their dependent
// fills are observed. Transient gateway failures are retried with bounded
// backoff per order; a protective-stop failure after a live fill triggers an
// emergency market close before the trade is reported.
package sequencer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/exchange"
	"github.com/quantrella/trade-executor/internal/metrics"
	"github.com/quantrella/trade-executor/internal/model"
	"github.com/quantrella/trade-executor/internal/riskplan"
	"github.com/quantrella/trade-executor/internal/store"
)

// Publisher receives trade lifecycle events; the WebSocket hub implements it.
type Publisher interface {
	PublishTrade(t *model.Trade)
}

// Options tune sequencer behavior. Zero values select defaults.
type Options struct {
	// MaxAttempts bounds per-order submission attempts (default 3).
	MaxAttempts int

	// PollInterval is the resting-entry fill poll cadence (default 500ms).
	PollInterval time.Duration

	// RestingGrace is how long to wait for fills on resting entries that
	// carry no cancellation deadline before accepting them as resting
	// (default 2s).
	RestingGrace time.Duration

	// Guard, when set, rejects plans breaching risk bounds before any
	// order is placed.
	Guard *riskplan.Guard

	// Events, when set, receives every terminal trade.
	Events Publisher
}

// Sequencer owns the per-request trade lifecycle. The only mutable shared
// state is the per-key lock table; trades themselves are request-scoped.
type Sequencer struct {
	gw     exchange.Gateway
	st     store.Store
	guard  *riskplan.Guard
	events Publisher

	maxAttempts  int
	pollInterval time.Duration
	restingGrace time.Duration

	keys *keyedMutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a sequencer over the given gateway and ledger store.
func New(gw exchange.Gateway, st store.Store, opts Options) *Sequencer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.RestingGrace <= 0 {
		opts.RestingGrace = 2 * time.Second
	}
	return &Sequencer{
		gw:           gw,
		st:           st,
		guard:        opts.Guard,
		events:       opts.Events,
		maxAttempts:  opts.MaxAttempts,
		pollInterval: opts.PollInterval,
		restingGrace: opts.RestingGrace,
		keys:         newKeyedMutex(),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the aggregate outcome of one execute request.
type Result struct {
	Trade            *model.Trade
	TradingAvailable bool

	// Replayed is true when the idempotency key matched an existing trade
	// and no new submissions were made.
	Replayed bool
}

// Execute runs one validated decision to a terminal trade state. key is the
// caller-supplied idempotency key; empty derives one from the raw body. The
// same key always yields the same trade: a replay returns the stored result
// without touching the gateway.
func (s *Sequencer) Execute(ctx context.Context, rawBody []byte, doc *model.Decision, key string) (*Result, error) {
	start := s.now()
	if key == "" {
		key = DeriveKey(rawBody)
	}

	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	if existing, err := s.st.GetTradeByKey(ctx, key); err == nil {
		slog.Info("idempotent replay", "trade_id", existing.ID, "key", key)
		return &Result{
			Trade:            existing,
			TradingAvailable: s.gw.SupportsLiveOrders(),
			Replayed:         true,
		}, nil
	}

	trade := &model.Trade{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		Symbol:         doc.Symbol,
		Side:           doc.Side,
		State:          model.TradePending,
		CreatedAt:      s.now().UTC(),
	}

	switch {
	case doc.Decision != model.DecisionEnter:
		s.skip(trade, "decision is "+doc.Decision)
	case !doc.AllowNew:
		s.skip(trade, "allow_new_trades is false")
	case !s.gw.SupportsLiveOrders():
		s.skip(trade, "trading unavailable: exchange credentials not configured")
	default:
		s.submit(ctx, trade, doc)
	}

	s.record(ctx, trade, doc, rawBody)
	if s.events != nil {
		s.events.PublishTrade(trade)
	}

	metrics.DecisionsTotal.WithLabelValues(doc.Decision, trade.State).Inc()
	metrics.ExecutionLatency.Observe(s.now().Sub(start).Seconds())

	slog.Info("decision processed",
		"trade_id", trade.ID,
		"decision", doc.Decision,
		"symbol", doc.Symbol,
		"state", trade.State,
		"orders", len(trade.Orders),
	)

	return &Result{Trade: trade, TradingAvailable: s.gw.SupportsLiveOrders()}, nil
}

// skip moves a trade straight to the skipped terminal state. No gateway
// calls are ever made on this path.
func (s *Sequencer) skip(trade *model.Trade, reason string) {
	trade.State = model.TradeSkipped
	trade.SkipReason = reason
}

// submit runs the full placement sequence for an enter-decision, mutating
// the trade to a terminal state.
func (s *Sequencer) submit(ctx context.Context, trade *model.Trade, doc *model.Decision) {
	plan := doc.RiskPlan

	exSymbol, err := riskplan.NormalizeSymbol(doc.Symbol)
	if err != nil {
		s.fail(trade, err)
		return
	}

	inst, err := s.instrument(ctx, exSymbol)
	if err != nil {
		s.fail(trade, err)
		return
	}

	var lastPrice decimal.Decimal
	if plan.EntryPlan.Type == model.EntryMarket {
		lastPrice, err = s.gw.LastPrice(ctx, exSymbol)
		if err != nil {
			s.fail(trade, err)
			return
		}
	}

	if s.guard != nil {
		var equity decimal.Decimal
		if sum, err := s.gw.AccountSummary(ctx); err == nil && sum != nil {
			equity = sum.Equity
		}
		if err := s.guard.Check(plan, equity); err != nil {
			s.skip(trade, err.Error())
			return
		}
	}

	intents, err := riskplan.Translate(plan, doc.Side, doc.Symbol, inst, lastPrice)
	if err != nil {
		s.fail(trade, err)
		return
	}

	var entries, protective []model.OrderIntent
	for _, it := range intents {
		if it.Role == model.RoleEntry {
			entries = append(entries, it)
		} else {
			protective = append(protective, it)
		}
	}

	trade.State = model.TradeSubmitting

	// Entries are independent of each other: submit them concurrently, each
	// goroutine writing only its own slot. All submissions are attempted
	// even when one fails.
	entryOrders := make([]model.Order, len(entries))
	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entryOrders[i] = s.submitIntent(ctx, entries[i], entries[i].Quantity)
		}(i)
	}
	wg.Wait()

	s.awaitEntryFills(ctx, exSymbol, entries, entryOrders)

	// Persisted ordering: entries in plan order, then protective orders.
	trade.Orders = entryOrders

	filled := decimal.Zero
	resting := decimal.Zero
	allEntriesOK := true
	for _, o := range entryOrders {
		switch o.Status {
		case model.OrderFilled:
			q := o.ExecutedQty
			if q.IsZero() {
				q = o.Quantity
			}
			filled = filled.Add(q)
		case model.OrderResting:
			filled = filled.Add(o.ExecutedQty)
			resting = resting.Add(o.Quantity.Sub(o.ExecutedQty))
		case model.OrderCanceled:
			filled = filled.Add(o.ExecutedQty)
			allEntriesOK = false
		default:
			allEntriesOK = false
		}
	}

	if filled.IsZero() && resting.IsZero() {
		trade.State = model.TradeFailed
		trade.Error = "no entry order filled"
		return
	}

	// Protective orders cover realized fills plus any still-resting size:
	// reduce-only orders cannot open exposure, and a later fill must never
	// sit unprotected.
	coverage := filled.Add(resting)

	protectiveOK := true
	for _, it := range protective {
		qty := riskplan.FloorToStep(coverage.Mul(it.CloseFrac), inst.LotStep)
		if !qty.IsPositive() {
			continue
		}

		order := s.submitIntent(ctx, it, qty)
		trade.Orders = append(trade.Orders, order)

		if order.Status == model.OrderFailed {
			protectiveOK = false
			if it.Role == model.RoleStopLoss && filled.IsPositive() {
				trade.Orders = append(trade.Orders, s.emergencyClose(ctx, it, filled))
			}
		}
	}

	switch {
	case allEntriesOK && protectiveOK:
		trade.State = model.TradeExecuted
	default:
		trade.State = model.TradePartiallyExecuted
	}
}

func (s *Sequencer) fail(trade *model.Trade, err error) {
	trade.State = model.TradeFailed
	trade.Error = err.Error()
	slog.Error("trade failed before submission", "trade_id", trade.ID, "err", err)
}

// retry runs op up to maxAttempts times, backing off between attempts.
// Non-transient errors abort immediately.
func (s *Sequencer) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !exchange.IsTransient(err) {
			return err
		}
		metrics.GatewayRetries.Inc()
		if attempt < s.maxAttempts-1 {
			if s.sleep(ctx, backoff(attempt)) != nil {
				return err
			}
		}
	}
	return err
}

// instrument fetches sizing metadata with the same bounded retry policy as
// order submission.
func (s *Sequencer) instrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	var inst *exchange.Instrument
	err := s.retry(ctx, func() error {
		var e error
		inst, e = s.gw.Instrument(ctx, symbol)
		return e
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// submitIntent places one order with bounded retry on transient failures.
// The returned Order is terminal: filled, resting, canceled, or failed.
func (s *Sequencer) submitIntent(ctx context.Context, intent model.OrderIntent, qty decimal.Decimal) model.Order {
	order := model.Order{
		Role:     intent.Role,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Type:     intent.Type,
		Quantity: qty,
		Price:    intent.Price,
	}

	req := exchange.OrderRequest{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Type:       intent.Type,
		Qty:        qty,
		ReduceOnly: intent.ReduceOnly,
	}
	if intent.Role == model.RoleStopLoss {
		// Stops are conditional market orders triggered at the stop price.
		req.TriggerPrice = intent.Price
	} else if intent.Type == exchange.TypeLimit {
		req.Price = intent.Price
	}

	var res *exchange.OrderResult
	err := s.retry(ctx, func() error {
		var e error
		res, e = s.gw.PlaceOrder(ctx, req)
		if e != nil && exchange.IsTransient(e) {
			slog.Warn("transient gateway error, retrying",
				"role", intent.Role, "symbol", intent.Symbol, "err", e)
		}
		return e
	})

	if err != nil {
		order.Status = model.OrderFailed
		order.Error = err.Error()
		metrics.OrdersSubmitted.WithLabelValues(intent.Role, order.Status).Inc()
		return order
	}

	order.OrderID = res.OrderID
	order.ExecutedQty = res.ExecutedQty
	order.ExecutedPrice = res.ExecutedPrice
	order.Status = localStatus(res.Status)
	metrics.OrdersSubmitted.WithLabelValues(intent.Role, order.Status).Inc()
	return order
}

// emergencyClose market-closes the unprotected filled size after a failed
// stop placement. Its outcome is recorded as a distinct order on the trade.
func (s *Sequencer) emergencyClose(ctx context.Context, stop model.OrderIntent, qty decimal.Decimal) model.Order {
	metrics.EmergencyCloses.Inc()
	slog.Error("stop placement failed with live fill, attempting emergency close",
		"symbol", stop.Symbol, "qty", qty.String())

	order := model.Order{
		Role:     model.RoleEmergencyClose,
		Symbol:   stop.Symbol,
		Side:     stop.Side, // same closing direction as the stop
		Type:     exchange.TypeMarket,
		Quantity: qty,
	}

	var res *exchange.OrderResult
	err := s.retry(ctx, func() error {
		var e error
		res, e = s.gw.MarketClose(ctx, stop.Symbol, stop.Side, qty)
		return e
	})
	if err != nil {
		order.Status = model.OrderFailed
		order.Error = err.Error()
		slog.Error("emergency close failed, position is unprotected",
			"symbol", stop.Symbol, "qty", qty.String(), "err", err)
	} else {
		order.OrderID = res.OrderID
		order.ExecutedQty = res.ExecutedQty
		order.ExecutedPrice = res.ExecutedPrice
		order.Status = localStatus(res.Status)
	}
	metrics.OrdersSubmitted.WithLabelValues(order.Role, order.Status).Inc()
	return order
}

// awaitEntryFills polls resting entries until they fill, the cancellation
// deadline elapses, or the grace window closes. A declared deadline is
// enforced with explicit cancels — a live-but-forgotten order on the
// exchange would be a silent risk leak.
func (s *Sequencer) awaitEntryFills(ctx context.Context, symbol string, intents []model.OrderIntent, orders []model.Order) {
	wait := s.restingGrace
	explicitCancel := false
	for _, it := range intents {
		if it.CancelAfter > 0 {
			wait = it.CancelAfter
			explicitCancel = true
			break
		}
	}
	deadline := s.now().Add(wait)

	for {
		restingLeft := false
		for i := range orders {
			if orders[i].Status != model.OrderResting || orders[i].OrderID == "" {
				continue
			}
			if res, err := s.gw.OrderStatus(ctx, symbol, orders[i].OrderID); err == nil {
				orders[i].Status = localStatus(res.Status)
				orders[i].ExecutedQty = res.ExecutedQty
				orders[i].ExecutedPrice = res.ExecutedPrice
			}
			if orders[i].Status == model.OrderResting {
				restingLeft = true
			}
		}

		if !restingLeft {
			return
		}
		if !s.now().Before(deadline) {
			break
		}
		if s.sleep(ctx, s.pollInterval) != nil {
			return
		}
	}

	if !explicitCancel {
		return
	}

	for i := range orders {
		if orders[i].Status != model.OrderResting {
			continue
		}
		if err := s.cancelWithRetry(ctx, symbol, orders[i].OrderID); err != nil {
			slog.Error("entry cancel failed past deadline",
				"order_id", orders[i].OrderID, "err", err)
			orders[i].Error = "cancel failed: " + err.Error()
			continue
		}
		orders[i].Status = model.OrderCanceled
	}
}

func (s *Sequencer) cancelWithRetry(ctx context.Context, symbol, orderID string) error {
	return s.retry(ctx, func() error {
		return s.gw.CancelOrder(ctx, symbol, orderID)
	})
}

// record persists the decision audit entry and the terminal trade. Ledger
// failures are surfaced through logs and metrics, never to the caller: an
// executed trade must not be reported as failed because the audit write
// lagged.
func (s *Sequencer) record(ctx context.Context, trade *model.Trade, doc *model.Decision, rawBody []byte) {
	if !model.TerminalState(trade.State) {
		trade.State = model.TradeFailed
	}

	rec := &store.DecisionRecord{
		TradeID:   trade.ID,
		Symbol:    doc.Symbol,
		Status:    trade.State,
		Raw:       rawBody,
		CreatedAt: s.now().UTC(),
	}
	if err := s.st.InsertDecision(ctx, rec); err != nil {
		metrics.LedgerFailures.Inc()
		slog.Error("ledger decision insert failed", "trade_id", trade.ID, "err", err)
	}
	if err := s.st.InsertTrade(ctx, trade); err != nil {
		metrics.LedgerFailures.Inc()
		slog.Error("ledger trade insert failed", "trade_id", trade.ID, "err", err)
	}
}

// localStatus maps a venue order status onto the local order state model.
func localStatus(venue string) string {
	switch venue {
	case "Filled":
		return model.OrderFilled
	case "Cancelled", "Deactivated":
		return model.OrderCanceled
	case "Rejected":
		return model.OrderFailed
	default:
		// New, PartiallyFilled, Untriggered: accepted and resting.
		return model.OrderResting
	}
}
