package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantrella/trade-executor/internal/api"
	"github.com/quantrella/trade-executor/internal/auth"
	"github.com/quantrella/trade-executor/internal/exchange"
	"github.com/quantrella/trade-executor/internal/sequencer"
	"github.com/quantrella/trade-executor/internal/store"
)

const testSecret = "test-webhook-secret"

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// stubGateway is a minimal live gateway that fills everything instantly and
// counts calls so tests can assert "no gateway call" properties.
type stubGateway struct {
	mu   sync.Mutex
	live bool

	placed     int
	execCalls  int
	executions []json.RawMessage
	nextID     int
}

func (g *stubGateway) SupportsLiveOrders() bool { return g.live }

func (g *stubGateway) Instrument(_ context.Context, symbol string) (*exchange.Instrument, error) {
	return &exchange.Instrument{
		Symbol:   symbol,
		TickSize: d("0.1"),
		LotStep:  d("0.1"),
		MinQty:   d("0.1"),
	}, nil
}

func (g *stubGateway) LastPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	return d("41.0"), nil
}

func (g *stubGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed++
	g.nextID++
	return &exchange.OrderResult{
		OrderID:     "stub-" + string(rune('0'+g.nextID)),
		Status:      "Filled",
		ExecutedQty: req.Qty,
	}, nil
}

func (g *stubGateway) OrderStatus(_ context.Context, _, orderID string) (*exchange.OrderResult, error) {
	return &exchange.OrderResult{OrderID: orderID, Status: "Filled"}, nil
}

func (g *stubGateway) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (g *stubGateway) MarketClose(_ context.Context, _, _ string, qty decimal.Decimal) (*exchange.OrderResult, error) {
	return &exchange.OrderResult{OrderID: "stub-close", Status: "Filled", ExecutedQty: qty}, nil
}

func (g *stubGateway) AccountSummary(_ context.Context) (*exchange.AccountSummary, error) {
	return &exchange.AccountSummary{
		Raw:    json.RawMessage(`{"totalEquity":"10000"}`),
		Equity: d("10000"),
	}, nil
}

func (g *stubGateway) Executions(_ context.Context, _ exchange.ExecutionsQuery) ([]json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.execCalls++
	return g.executions, nil
}

func (g *stubGateway) Positions(_ context.Context, _ string) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"symbol":"HYPEUSDT","size":"12"}`)}, nil
}

func (g *stubGateway) OpenOrders(_ context.Context, _ string) ([]json.RawMessage, error) {
	return nil, nil
}

func (g *stubGateway) Ping(_ context.Context) error { return nil }

func (g *stubGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed
}

// newTestEnv builds a router over a live stub gateway and in-memory store.
func newTestEnv(t *testing.T) (chi.Router, *stubGateway, *store.MemoryStore) {
	t.Helper()
	gw := &stubGateway{live: true}
	st := store.NewMemoryStore()
	seq := sequencer.New(gw, st, sequencer.Options{})
	svc := api.NewService(auth.New(testSecret), seq, gw, st)

	r := chi.NewRouter()
	svc.Routes(r, nil)
	return r, gw, st
}

func signedPost(t *testing.T, router chi.Router, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/execute", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", auth.New(testSecret).Sign([]byte(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON response: %v: %s", err, w.Body.String())
	}
	return m
}

const skipBody = `{
	"ts": "2025-06-01T12:00:00Z",
	"symbol": "HYPE/USDT",
	"decision": "skip",
	"allow_new_trades": true
}`

const enterBody = `{
	"ts": "2025-06-01T12:00:00Z",
	"symbol": "HYPE/USDT",
	"decision": "enter",
	"allow_new_trades": true,
	"side": "long",
	"risk_plan": {
		"position_usd": 500,
		"max_risk_pct_equity": 0.5,
		"entry_plan": {
			"type": "limit",
			"entries": [{"price": 41.1, "size_frac": 1.0}]
		},
		"stop_loss": 40.3,
		"take_profits": [{"price": 41.7, "close_frac": 1.0}]
	}
}`

// --- Webhook tests ---

func TestExecute_SkipDecision(t *testing.T) {
	router, gw, _ := newTestEnv(t)

	w := signedPost(t, router, skipBody, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["status"] != "accepted" {
		t.Errorf("status = %v, want accepted", resp["status"])
	}
	if resp["execution_status"] != "skipped" {
		t.Errorf("execution_status = %v, want skipped", resp["execution_status"])
	}
	if gw.placedCount() != 0 {
		t.Errorf("gateway received %d orders for a skip decision", gw.placedCount())
	}
}

func TestExecute_EnterPlacesFullSequence(t *testing.T) {
	router, gw, st := newTestEnv(t)

	w := signedPost(t, router, enterBody, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["execution_status"] != "executed" {
		t.Fatalf("execution_status = %v, want executed: %s", resp["execution_status"], w.Body.String())
	}
	if resp["trade_id"] == "" {
		t.Error("expected non-empty trade_id")
	}

	// entry + stop + take-profit.
	if gw.placedCount() != 3 {
		t.Errorf("gateway placements = %d, want 3", gw.placedCount())
	}

	orders, ok := resp["order_details"].([]interface{})
	if !ok || len(orders) != 3 {
		t.Fatalf("order_details = %v, want 3 orders", resp["order_details"])
	}
	first := orders[0].(map[string]interface{})
	if first["symbol"] != "HYPEUSDT" {
		t.Errorf("order symbol = %v, want normalized HYPEUSDT", first["symbol"])
	}

	trades, err := st.ListTrades(context.Background(), 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("ledger trades = %d (err %v), want 1", len(trades), err)
	}
}

func TestExecute_InvalidSignature(t *testing.T) {
	router, gw, _ := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/execute", bytes.NewReader([]byte(skipBody)))
	req.Header.Set("X-Signature", "deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if gw.placedCount() != 0 {
		t.Error("gateway called despite signature rejection")
	}
}

func TestExecute_MissingSignature(t *testing.T) {
	router, _, _ := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/execute", bytes.NewReader([]byte(skipBody)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestExecute_MalformedBody(t *testing.T) {
	router, _, _ := newTestEnv(t)

	w := signedPost(t, router, `{"decision": `, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestExecute_ValidationFailureListsFields(t *testing.T) {
	router, gw, _ := newTestEnv(t)

	// size_frac sums to 0.9.
	body := `{
		"ts": "2025-06-01T12:00:00Z",
		"symbol": "HYPE/USDT",
		"decision": "enter",
		"allow_new_trades": true,
		"side": "long",
		"risk_plan": {
			"position_usd": 500,
			"entry_plan": {
				"type": "limit",
				"entries": [{"price": 41.1, "size_frac": 0.9}]
			},
			"stop_loss": 40.3,
			"take_profits": [{"price": 41.7, "close_frac": 1.0}]
		}
	}`

	w := signedPost(t, router, body, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["status"] != "rejected" {
		t.Errorf("status = %v, want rejected", resp["status"])
	}
	fields, ok := resp["fields"].([]interface{})
	if !ok || len(fields) == 0 {
		t.Errorf("expected field errors, got %v", resp["fields"])
	}
	if gw.placedCount() != 0 {
		t.Error("gateway called despite validation rejection")
	}
}

func TestExecute_IdempotencyKeyReplays(t *testing.T) {
	router, gw, _ := newTestEnv(t)
	headers := map[string]string{"X-Idempotency-Key": "req-123"}

	first := signedPost(t, router, enterBody, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: %d", first.Code)
	}
	placedAfterFirst := gw.placedCount()

	second := signedPost(t, router, enterBody, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("second request: %d", second.Code)
	}

	if gw.placedCount() != placedAfterFirst {
		t.Errorf("replay placed %d new orders", gw.placedCount()-placedAfterFirst)
	}
	if decodeBody(t, first)["trade_id"] != decodeBody(t, second)["trade_id"] {
		t.Error("replay returned a different trade_id")
	}
}

func TestExecute_AcknowledgeModeSkipsEnter(t *testing.T) {
	gw := &stubGateway{live: false}
	st := store.NewMemoryStore()
	seq := sequencer.New(gw, st, sequencer.Options{})
	svc := api.NewService(auth.New(testSecret), seq, gw, st)
	router := chi.NewRouter()
	svc.Routes(router, nil)

	w := signedPost(t, router, enterBody, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	resp := decodeBody(t, w)
	if resp["execution_status"] != "skipped" {
		t.Errorf("execution_status = %v, want skipped", resp["execution_status"])
	}
	if resp["trading_available"] != false {
		t.Errorf("trading_available = %v, want false", resp["trading_available"])
	}
	if gw.placedCount() != 0 {
		t.Error("orders placed without credentials")
	}
}

// --- Query endpoint tests ---

func TestHealthz(t *testing.T) {
	router, _, _ := newTestEnv(t)

	w := doGet(t, router, "/v1/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["ok"] != true {
		t.Errorf("ok = %v, want true", resp["ok"])
	}
}

func TestAccountPassthrough(t *testing.T) {
	router, _, _ := newTestEnv(t)

	w := doGet(t, router, "/v1/account")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["trading_available"] != true {
		t.Errorf("trading_available = %v, want true", resp["trading_available"])
	}
	info, ok := resp["account_info"].(map[string]interface{})
	if !ok || info["totalEquity"] != "10000" {
		t.Errorf("account_info = %v, want raw venue payload", resp["account_info"])
	}
}

func TestTradeHistory_Defaults(t *testing.T) {
	router, gw, _ := newTestEnv(t)
	gw.executions = []json.RawMessage{
		json.RawMessage(`{"execId":"e1"}`),
		json.RawMessage(`{"execId":"e2"}`),
	}

	w := doGet(t, router, "/v1/trade-history?symbol=HYPEUSDT")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	params := resp["query_params"].(map[string]interface{})
	if params["limit"] != float64(50) {
		t.Errorf("echoed limit = %v, want 50", params["limit"])
	}
	trades := resp["trades"].(map[string]interface{})
	if trades["count"] != float64(2) {
		t.Errorf("count = %v, want 2", trades["count"])
	}
}

func TestTradeHistory_LimitOutOfRange(t *testing.T) {
	router, gw, _ := newTestEnv(t)

	w := doGet(t, router, "/v1/trade-history?limit=5000")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if gw.execCalls != 0 {
		t.Error("gateway queried despite invalid limit")
	}
}

func TestTradeHistory_InvertedRange(t *testing.T) {
	router, gw, _ := newTestEnv(t)

	w := doGet(t, router, "/v1/trade-history?start_time=2000&end_time=1000")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if gw.execCalls != 0 {
		t.Error("gateway queried despite inverted time range")
	}
}

func TestPositions(t *testing.T) {
	router, _, _ := newTestEnv(t)

	w := doGet(t, router, "/v1/positions?symbol=HYPEUSDT")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if list, ok := resp["positions"].([]interface{}); !ok || len(list) != 1 {
		t.Errorf("positions = %v, want one entry", resp["positions"])
	}
}

func TestOpenOrdersEmptyList(t *testing.T) {
	router, _, _ := newTestEnv(t)

	w := doGet(t, router, "/v1/orders")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if _, ok := resp["orders"].([]interface{}); !ok {
		t.Errorf("orders = %v, want empty list not null", resp["orders"])
	}
}

func TestTradesFromLedger(t *testing.T) {
	router, _, _ := newTestEnv(t)

	// Seed the ledger through the webhook.
	if w := signedPost(t, router, enterBody, nil); w.Code != http.StatusOK {
		t.Fatalf("seed execute: %d", w.Code)
	}

	w := doGet(t, router, "/v1/trades")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}
