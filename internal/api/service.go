// Package api provides the HTTP surface: the signed decision webhook and the
// read-only account, history, position and order views sourced live from the
// exchange gateway.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantrella/trade-executor/internal/auth"
	"github.com/quantrella/trade-executor/internal/decision"
	"github.com/quantrella/trade-executor/internal/exchange"
	"github.com/quantrella/trade-executor/internal/metrics"
	"github.com/quantrella/trade-executor/internal/sequencer"
	"github.com/quantrella/trade-executor/internal/store"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 1 << 20

// Service handles the webhook and query endpoints. All state lives in the
// injected collaborators; the service itself is stateless.
type Service struct {
	authn *auth.Authenticator
	seq   *sequencer.Sequencer
	gw    exchange.Gateway
	store store.Store
}

// NewService creates the HTTP service over its collaborators.
func NewService(authn *auth.Authenticator, seq *sequencer.Sequencer, gw exchange.Gateway, st store.Store) *Service {
	return &Service{authn: authn, seq: seq, gw: gw, store: st}
}

// Routes mounts all endpoints on the given router. hub may be nil when the
// event stream is not exposed.
func (s *Service) Routes(r chi.Router, hub *WSHub) {
	r.Get("/", s.Root)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", s.Healthz)
		r.Get("/account", s.Account)
		r.Get("/trade-history", s.TradeHistory)
		r.Get("/positions", s.Positions)
		r.Get("/orders", s.OpenOrders)
		r.Get("/trades", s.Trades)
		r.Post("/execute", s.Execute)
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}
	})
}

// --- Response types ---

// ExecuteResponse is the JSON body returned from POST /v1/execute.
type ExecuteResponse struct {
	Status           string      `json:"status"`
	TradeID          string      `json:"trade_id"`
	Decision         string      `json:"decision"`
	ExecutionStatus  string      `json:"execution_status"`
	TradingAvailable bool        `json:"trading_available"`
	SkipReason       string      `json:"skip_reason,omitempty"`
	Error            string      `json:"error,omitempty"`
	OrderDetails     interface{} `json:"order_details,omitempty"`
}

type historyParams struct {
	Symbol    string `json:"symbol,omitempty"`
	Limit     int    `json:"limit"`
	StartTime int64  `json:"start_time,omitempty"`
	EndTime   int64  `json:"end_time,omitempty"`
}

// --- HTTP Handlers ---

// Root handles GET / with a service banner.
func (s *Service) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "trade-executor",
		"endpoints": []string{
			"GET /v1/healthz",
			"GET /v1/account",
			"GET /v1/trade-history",
			"GET /v1/positions",
			"GET /v1/orders",
			"GET /v1/trades",
			"POST /v1/execute",
		},
	})
}

// Healthz handles GET /v1/healthz.
func (s *Service) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
		"ts": time.Now().UTC().Format(time.RFC3339),
	})
}

// Account handles GET /v1/account. The summary is fetched live per request,
// never cached.
func (s *Service) Account(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"trading_available": s.gw.SupportsLiveOrders(),
	}

	sum, err := s.gw.AccountSummary(r.Context())
	if err != nil {
		resp["account_info"] = nil
		resp["error"] = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp["account_info"] = json.RawMessage(sum.Raw)
	writeJSON(w, http.StatusOK, resp)
}

// TradeHistory handles GET /v1/trade-history. Pure pass-through to the
// exchange: no local materialization. Parameter validation happens before
// any gateway call.
func (s *Service) TradeHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := historyParams{
		Symbol: q.Get("symbol"),
		Limit:  50,
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		params.Limit = n
	}
	if params.Limit < 1 || params.Limit > 1000 {
		writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
		return
	}

	var err error
	if params.StartTime, err = parseMillis(q.Get("start_time")); err != nil {
		writeError(w, "start_time must be a unix millisecond timestamp", http.StatusBadRequest)
		return
	}
	if params.EndTime, err = parseMillis(q.Get("end_time")); err != nil {
		writeError(w, "end_time must be a unix millisecond timestamp", http.StatusBadRequest)
		return
	}
	if params.StartTime > 0 && params.EndTime > 0 && params.EndTime < params.StartTime {
		writeError(w, "end_time must not precede start_time", http.StatusBadRequest)
		return
	}

	list, err := s.gw.Executions(r.Context(), exchange.ExecutionsQuery{
		Symbol:    params.Symbol,
		Limit:     params.Limit,
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
	})
	if err != nil {
		writeError(w, "exchange query failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if list == nil {
		list = []json.RawMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trading_available": s.gw.SupportsLiveOrders(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"query_params":      params,
		"trades": map[string]interface{}{
			"count": len(list),
			"list":  list,
		},
	})
}

// Positions handles GET /v1/positions, optionally filtered by ?symbol=.
func (s *Service) Positions(w http.ResponseWriter, r *http.Request) {
	list, err := s.gw.Positions(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, "exchange query failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if list == nil {
		list = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trading_available": s.gw.SupportsLiveOrders(),
		"positions":         list,
	})
}

// OpenOrders handles GET /v1/orders, optionally filtered by ?symbol=.
func (s *Service) OpenOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.gw.OpenOrders(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, "exchange query failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if list == nil {
		list = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trading_available": s.gw.SupportsLiveOrders(),
		"orders":            list,
	})
}

// Trades handles GET /v1/trades: recent trades from the local ledger,
// newest first.
func (s *Service) Trades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.store.ListTrades(r.Context(), limit)
	if err != nil {
		writeError(w, "ledger query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(trades),
		"trades": trades,
	})
}

// Execute handles POST /v1/execute: the signed decision webhook.
// Envelope order is fixed: signature, then schema, then execution — a bad
// signature is rejected before the body is even parsed.
func (s *Service) Execute(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if err := s.authn.Verify(raw, r.Header.Get("X-Signature")); err != nil {
		metrics.AuthRejections.Inc()
		slog.Warn("webhook signature rejected", "err", err)
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	doc, err := decision.Decode(raw)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"status": "rejected",
			"error":  "malformed decision document",
		})
		return
	}

	if err := decision.Validate(doc); err != nil {
		var verr *decision.ValidationError
		resp := map[string]interface{}{
			"status": "rejected",
			"error":  "decision validation failed",
		}
		if errors.As(err, &verr) {
			resp["fields"] = verr.Fields
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	res, err := s.seq.Execute(r.Context(), raw, doc, r.Header.Get("X-Idempotency-Key"))
	if err != nil {
		writeError(w, "execution failed", http.StatusInternalServerError)
		return
	}

	tr := res.Trade
	resp := ExecuteResponse{
		Status:           "accepted",
		TradeID:          tr.ID,
		Decision:         doc.Decision,
		ExecutionStatus:  tr.State,
		TradingAvailable: res.TradingAvailable,
		SkipReason:       tr.SkipReason,
		Error:            tr.Error,
	}
	if len(tr.Orders) > 0 {
		resp.OrderDetails = tr.Orders
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseMillis(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
