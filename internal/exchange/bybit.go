package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Bybit v5 REST endpoints.
const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	// All trading goes through linear perpetuals settled in USDT.
	bybitCategory   = "linear"
	bybitSettleCoin = "USDT"

	bybitRecvWindow = "5000"
)

// Bybit venue return codes treated as transient.
var bybitTransientCodes = map[int]bool{
	10002: true, // request timestamp outside recv window
	10006: true, // rate limit exceeded
	10016: true, // internal server error
}

// Bybit is the live Gateway implementation over the Bybit v5 REST API.
type Bybit struct {
	client    *resty.Client
	apiKey    string
	apiSecret []byte
	now       func() time.Time
}

// NewBybit creates a live gateway. testnet selects the demo environment.
func NewBybit(apiKey, apiSecret string, testnet bool) *Bybit {
	base := bybitMainnetURL
	if testnet {
		base = bybitTestnetURL
	}

	client := resty.New()
	client.SetBaseURL(base)
	client.SetTimeout(10 * time.Second)

	slog.Info("bybit gateway initialized", "testnet", testnet)

	return &Bybit{
		client:    client,
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		now:       time.Now,
	}
}

// SetBaseURL overrides the venue URL; used by tests against httptest servers.
func (b *Bybit) SetBaseURL(u string) { b.client.SetBaseURL(u) }

func (b *Bybit) SupportsLiveOrders() bool { return true }

// sign computes the v5 request signature over
// timestamp + apiKey + recvWindow + payload, where payload is the encoded
// query string for GET and the raw JSON body for POST.
func (b *Bybit) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, b.apiSecret)
	mac.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *Bybit) authHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	return map[string]string{
		"X-BAPI-API-KEY":     b.apiKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": bybitRecvWindow,
		"X-BAPI-SIGN":        b.sign(ts, payload),
	}
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// get issues a signed GET. The query string is encoded deterministically so
// the signature always covers the exact bytes sent.
func (b *Bybit) get(ctx context.Context, op, path string, params url.Values) (json.RawMessage, error) {
	query := params.Encode()

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeaders(b.authHeaders(query)).
		SetQueryString(query).
		Get(path)
	return b.unwrap(op, resp, err)
}

// post issues a signed POST with a pre-marshaled JSON body.
func (b *Bybit) post(ctx context.Context, op, path string, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshal %s request: %w", op, err)
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeaders(b.authHeaders(string(raw))).
		SetHeader("Content-Type", "application/json").
		SetBody(raw).
		Post(path)
	return b.unwrap(op, resp, err)
}

func (b *Bybit) unwrap(op string, resp *resty.Response, err error) (json.RawMessage, error) {
	if err != nil {
		// Network-level failures (timeouts, refused connections) are retryable.
		return nil, &GatewayError{Op: op, Msg: err.Error(), Transient: true}
	}
	if code := resp.StatusCode(); code != http.StatusOK {
		return nil, &GatewayError{
			Op:        op,
			Code:      code,
			Msg:       http.StatusText(code),
			Transient: code == http.StatusTooManyRequests || code >= 500,
		}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &GatewayError{Op: op, Msg: "malformed response: " + err.Error()}
	}
	if env.RetCode != 0 {
		return nil, &GatewayError{
			Op:        op,
			Code:      env.RetCode,
			Msg:       env.RetMsg,
			Transient: bybitTransientCodes[env.RetCode],
		}
	}
	return env.Result, nil
}

// listResult is the common {"list": [...]} result shape.
type listResult struct {
	List []json.RawMessage `json:"list"`
}

func (b *Bybit) list(raw json.RawMessage, op string) ([]json.RawMessage, error) {
	var lr listResult
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, &GatewayError{Op: op, Msg: "malformed list result: " + err.Error()}
	}
	return lr.List, nil
}

func (b *Bybit) Ping(ctx context.Context) error {
	resp, err := b.client.R().SetContext(ctx).Get("/v5/market/time")
	if err != nil {
		return &GatewayError{Op: "ping", Msg: err.Error(), Transient: true}
	}
	if resp.StatusCode() != http.StatusOK {
		return &GatewayError{Op: "ping", Code: resp.StatusCode(), Msg: http.StatusText(resp.StatusCode())}
	}
	return nil
}

func (b *Bybit) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", symbol)

	raw, err := b.get(ctx, "tickers", "/v5/market/tickers", params)
	if err != nil {
		return decimal.Zero, err
	}
	items, err := b.list(raw, "tickers")
	if err != nil || len(items) == 0 {
		return decimal.Zero, &GatewayError{Op: "tickers", Msg: "no ticker for " + symbol}
	}

	var ticker struct {
		LastPrice decimal.Decimal `json:"lastPrice"`
	}
	if err := json.Unmarshal(items[0], &ticker); err != nil {
		return decimal.Zero, &GatewayError{Op: "tickers", Msg: "malformed ticker: " + err.Error()}
	}
	return ticker.LastPrice, nil
}

func (b *Bybit) Instrument(ctx context.Context, symbol string) (*Instrument, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", symbol)

	raw, err := b.get(ctx, "instruments-info", "/v5/market/instruments-info", params)
	if err != nil {
		return nil, err
	}
	items, err := b.list(raw, "instruments-info")
	if err != nil || len(items) == 0 {
		return nil, &GatewayError{Op: "instruments-info", Msg: symbol + " not found in linear perpetuals"}
	}

	var info struct {
		LotSizeFilter struct {
			QtyStep     decimal.Decimal `json:"qtyStep"`
			MinOrderQty decimal.Decimal `json:"minOrderQty"`
			MaxOrderQty decimal.Decimal `json:"maxOrderQty"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize decimal.Decimal `json:"tickSize"`
		} `json:"priceFilter"`
		LeverageFilter struct {
			MaxLeverage decimal.Decimal `json:"maxLeverage"`
		} `json:"leverageFilter"`
	}
	if err := json.Unmarshal(items[0], &info); err != nil {
		return nil, &GatewayError{Op: "instruments-info", Msg: "malformed instrument: " + err.Error()}
	}

	return &Instrument{
		Symbol:      symbol,
		TickSize:    info.PriceFilter.TickSize,
		LotStep:     info.LotSizeFilter.QtyStep,
		MinQty:      info.LotSizeFilter.MinOrderQty,
		MaxQty:      info.LotSizeFilter.MaxOrderQty,
		MaxLeverage: info.LeverageFilter.MaxLeverage,
	}, nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body := map[string]any{
		"category":  bybitCategory,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"orderType": req.Type,
		"qty":       req.Qty.String(),
	}
	if req.Price.IsPositive() {
		body["price"] = req.Price.String()
	}
	if req.TriggerPrice.IsPositive() {
		body["triggerPrice"] = req.TriggerPrice.String()
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	raw, err := b.post(ctx, "order-create", "/v5/order/create", body)
	if err != nil {
		return nil, err
	}

	var created struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, &GatewayError{Op: "order-create", Msg: "malformed create result: " + err.Error()}
	}

	// Creation only returns the id. Fetch the live order once for status and
	// fill figures; a fetch failure degrades to a resting snapshot rather
	// than failing the placement.
	res, err := b.OrderStatus(ctx, req.Symbol, created.OrderID)
	if err != nil {
		slog.Warn("order status fetch failed after create", "order_id", created.OrderID, "err", err)
		return &OrderResult{OrderID: created.OrderID, Status: "New"}, nil
	}
	return res, nil
}

func (b *Bybit) OrderStatus(ctx context.Context, symbol, orderID string) (*OrderResult, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	raw, err := b.get(ctx, "order-status", "/v5/order/realtime", params)
	if err != nil {
		return nil, err
	}
	items, err := b.list(raw, "order-status")
	if err != nil || len(items) == 0 {
		return nil, &GatewayError{Op: "order-status", Msg: "order " + orderID + " not found"}
	}

	var o struct {
		OrderID     string          `json:"orderId"`
		OrderStatus string          `json:"orderStatus"`
		CumExecQty  decimal.Decimal `json:"cumExecQty"`
		AvgPrice    decimal.Decimal `json:"avgPrice"`
	}
	if err := json.Unmarshal(items[0], &o); err != nil {
		return nil, &GatewayError{Op: "order-status", Msg: "malformed order: " + err.Error()}
	}

	return &OrderResult{
		OrderID:       o.OrderID,
		Status:        o.OrderStatus,
		ExecutedQty:   o.CumExecQty,
		ExecutedPrice: o.AvgPrice,
	}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := b.post(ctx, "order-cancel", "/v5/order/cancel", map[string]any{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	})
	return err
}

func (b *Bybit) MarketClose(ctx context.Context, symbol, side string, qty decimal.Decimal) (*OrderResult, error) {
	return b.PlaceOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       TypeMarket,
		Qty:        qty,
		ReduceOnly: true,
	})
}

func (b *Bybit) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	raw, err := b.get(ctx, "wallet-balance", "/v5/account/wallet-balance", params)
	if err != nil {
		return nil, err
	}

	var balances struct {
		List []struct {
			TotalEquity decimal.Decimal `json:"totalEquity"`
		} `json:"list"`
	}
	summary := &AccountSummary{Raw: raw}
	if err := json.Unmarshal(raw, &balances); err == nil && len(balances.List) > 0 {
		summary.Equity = balances.List[0].TotalEquity
	}
	return summary, nil
}

func (b *Bybit) Executions(ctx context.Context, q ExecutionsQuery) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Symbol != "" {
		params.Set("symbol", q.Symbol)
	}
	if q.StartTime > 0 {
		params.Set("startTime", strconv.FormatInt(q.StartTime, 10))
	}
	if q.EndTime > 0 {
		params.Set("endTime", strconv.FormatInt(q.EndTime, 10))
	}

	raw, err := b.get(ctx, "executions", "/v5/execution/list", params)
	if err != nil {
		return nil, err
	}
	return b.list(raw, "executions")
}

func (b *Bybit) Positions(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("settleCoin", bybitSettleCoin)
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	raw, err := b.get(ctx, "positions", "/v5/position/list", params)
	if err != nil {
		return nil, err
	}
	return b.list(raw, "positions")
}

func (b *Bybit) OpenOrders(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("settleCoin", bybitSettleCoin)
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	raw, err := b.get(ctx, "open-orders", "/v5/order/realtime", params)
	if err != nil {
		return nil, err
	}
	return b.list(raw, "open-orders")
}
