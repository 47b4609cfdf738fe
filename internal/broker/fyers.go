package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-execv1/internal/model"
	"trading-execv1/internal/normalize"
)

const fyersDefaultRoot = "https://api-t1.fyers.in"

var fyersRoutes = map[string]string{
	"otp":        "/api/v3/send_login_otp",
	"verify.otp": "/api/v3/verify_otp",
	"verify.pin": "/api/v3/verify_pin",
	"token":      "/api/v3/token",

	"order.place":  "/api/v3/orders/sync",
	"order.cancel": "/api/v3/orders/sync",
	"order.book":   "/api/v3/orders",
	"positions":    "/api/v3/positions",
	"funds":        "/api/v3/funds",
	"quotes":       "/api/v3/data/quotes",
	"symbol.info":  "/api/v3/data/quotes",
}

// FyersConfig carries the credentials for one fyers account.
type FyersConfig struct {
	ClientID   string // FY id
	AppID      string
	SecretKey  string
	TOTPSecret string
	PIN        string
	RootURL    string
	Timeout    time.Duration
}

// Fyers is the fyers API v3 adapter. Login runs the TOTP + PIN handshake;
// all data calls return values in the canonical vocabulary.
type Fyers struct {
	cfg  FyersConfig
	http *http.Client

	mu          sync.RWMutex
	accessToken string
}

// NewFyers creates an unauthenticated fyers adapter.
func NewFyers(cfg FyersConfig) *Fyers {
	if cfg.RootURL == "" {
		cfg.RootURL = fyersDefaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Fyers{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (f *Fyers) Name() string { return "fyers" }

// AccessToken returns the current session token, empty before Login.
// The order stream needs it to authenticate the websocket.
func (f *Fyers) AccessToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accessToken
}

// Login performs the OTP → TOTP → PIN handshake and stores the session
// token. The TOTP code is generated locally from the shared secret.
func (f *Fyers) Login(ctx context.Context) error {
	var otpResp struct {
		RequestKey string `json:"request_key"`
	}
	if err := f.do(ctx, "POST", "otp", map[string]any{
		"fy_id": f.cfg.ClientID, "app_id": f.cfg.AppID,
	}, &otpResp); err != nil {
		return fmt.Errorf("fyers send otp: %w", err)
	}

	code, err := totp.GenerateCode(f.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("fyers totp generate: %w", err)
	}
	var totpResp struct {
		RequestKey string `json:"request_key"`
	}
	if err := f.do(ctx, "POST", "verify.otp", map[string]any{
		"request_key": otpResp.RequestKey, "otp": code,
	}, &totpResp); err != nil {
		return fmt.Errorf("fyers verify totp: %w", err)
	}

	var pinResp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := f.do(ctx, "POST", "verify.pin", map[string]any{
		"request_key": totpResp.RequestKey, "identity_type": "pin", "identifier": f.cfg.PIN,
	}, &pinResp); err != nil {
		return fmt.Errorf("fyers verify pin: %w", err)
	}

	f.mu.Lock()
	f.accessToken = pinResp.Data.AccessToken
	f.mu.Unlock()
	return nil
}

// fyers side codes: 1 = buy, -1 = sell.
func fyersSide(action string) int {
	if action == normalize.ActionSell {
		return -1
	}
	return 1
}

func (f *Fyers) PlaceOrder(ctx context.Context, req model.OrderRequest) (OrderAck, error) {
	symbol, err := normalize.ToBrokerSymbol(req.Symbol, "fyers")
	if err != nil {
		return OrderAck{}, err
	}
	typeCode, _ := strconv.Atoi(normalize.OrderTypeCode("fyers", req.OrderType))
	payload := map[string]any{
		"symbol":       symbol,
		"qty":          req.Quantity,
		"type":         typeCode,
		"side":         fyersSide(normalize.Action(req.Side)),
		"productType":  req.ProductType,
		"limitPrice":   req.Price,
		"stopPrice":    req.TriggerPrice,
		"validity":     req.Validity,
		"offlineOrder": false,
	}
	// BO/CO legs ride on the same request as price offsets.
	for k, v := range req.Extra {
		payload[k] = v
	}

	var resp struct {
		S       string `json:"s"`
		Message string `json:"message"`
		ID      string `json:"id"`
	}
	raw, err := f.doRaw(ctx, "POST", "order.place", payload, &resp)
	if err != nil {
		return OrderAck{}, fmt.Errorf("fyers place order: %w", err)
	}
	ack := OrderAck{OrderID: resp.ID, Message: resp.Message, Raw: raw}
	if resp.S == "ok" {
		ack.Status = normalize.StatusPending
	} else {
		ack.Status = normalize.StatusRejected
	}
	return ack, nil
}

func (f *Fyers) CancelOrder(ctx context.Context, brokerOrderID, symbol, productType, variety string) error {
	var resp struct {
		S       string `json:"s"`
		Message string `json:"message"`
	}
	if _, err := f.doRaw(ctx, "DELETE", "order.cancel", map[string]any{"id": brokerOrderID}, &resp); err != nil {
		return fmt.Errorf("fyers cancel %s: %w", brokerOrderID, err)
	}
	if resp.S != "ok" {
		return fmt.Errorf("fyers cancel %s: %s", brokerOrderID, resp.Message)
	}
	return nil
}

// ExitOrder flattens the leg with an opposite-side market order.
func (f *Fyers) ExitOrder(ctx context.Context, p ExitParams) (OrderAck, error) {
	return f.PlaceOrder(ctx, model.OrderRequest{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		Side:        model.Side(p.Side),
		OrderType:   model.OrderTypeMarket,
		ProductType: p.ProductType,
		Validity:    "DAY",
	})
}

func (f *Fyers) GetOrderDetails(ctx context.Context) ([]model.BrokerOrderDetail, error) {
	var resp struct {
		OrderBook []struct {
			ID            string  `json:"id"`
			Symbol        string  `json:"symbol"`
			Status        int     `json:"status"`
			Side          int     `json:"side"`
			ProductType   string  `json:"productType"`
			Type          int     `json:"type"`
			Qty           int64   `json:"qty"`
			FilledQty     int64   `json:"filledQty"`
			TradedPrice   float64 `json:"tradedPrice"`
			OrderDateTime string  `json:"orderDateTime"`
		} `json:"orderBook"`
	}
	if _, err := f.doRaw(ctx, "GET", "order.book", nil, &resp); err != nil {
		return nil, fmt.Errorf("fyers order book: %w", err)
	}
	out := make([]model.BrokerOrderDetail, 0, len(resp.OrderBook))
	for _, o := range resp.OrderBook {
		raw := strconv.Itoa(o.Status)
		status := normalize.Status("fyers", raw)
		if status == normalize.StatusFilled && o.FilledQty > 0 && o.FilledQty < o.Qty {
			status = normalize.StatusPartial
		}
		ts, _ := time.Parse("02-Jan-2006 15:04:05", o.OrderDateTime)
		out = append(out, model.BrokerOrderDetail{
			OrderID:     o.ID,
			Symbol:      o.Symbol,
			Status:      status,
			RawStatus:   raw,
			Action:      normalize.Action(strconv.Itoa(o.Side)),
			ProductType: o.ProductType,
			OrderType:   strconv.Itoa(o.Type),
			Qty:         o.Qty,
			FilledQty:   o.FilledQty,
			AvgPrice:    o.TradedPrice,
			UpdateTime:  ts,
		})
	}
	return out, nil
}

func (f *Fyers) GetPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var resp struct {
		NetPositions []struct {
			Symbol      string  `json:"symbol"`
			NetQty      int64   `json:"netQty"`
			BuyQty      int64   `json:"buyQty"`
			BuyAvg      float64 `json:"buyAvg"`
			SellQty     int64   `json:"sellQty"`
			SellAvg     float64 `json:"sellAvg"`
			PL          float64 `json:"pl"`
			LTP         float64 `json:"ltp"`
			ProductType string  `json:"productType"`
			CFBuyQty    int64   `json:"cfBuyQty"`
		} `json:"netPositions"`
	}
	if _, err := f.doRaw(ctx, "GET", "positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("fyers positions: %w", err)
	}
	out := make([]model.BrokerPosition, 0, len(resp.NetPositions))
	for _, p := range resp.NetPositions {
		out = append(out, model.BrokerPosition{
			TradingSymbol: p.Symbol,
			Exchange:      "NSE",
			Product:       p.ProductType,
			NetQty:        p.NetQty,
			BuyQty:        p.BuyQty,
			OvernightQty:  p.CFBuyQty,
			SellQty:       p.SellQty,
			BuyPrice:      p.BuyAvg,
			SellPrice:     p.SellAvg,
			LastPrice:     p.LTP,
			DayPnL:        p.PL,
		})
	}
	return out, nil
}

func (f *Fyers) GetBalanceSummary(ctx context.Context) (model.BalanceSummary, error) {
	var resp struct {
		FundLimit []struct {
			Title        string  `json:"title"`
			EquityAmount float64 `json:"equityAmount"`
		} `json:"fund_limit"`
	}
	if _, err := f.doRaw(ctx, "GET", "funds", nil, &resp); err != nil {
		return model.BalanceSummary{}, fmt.Errorf("fyers funds: %w", err)
	}
	bs := model.BalanceSummary{BrokerName: "fyers", FetchedAt: time.Now()}
	for _, fl := range resp.FundLimit {
		switch fl.Title {
		case "Total Balance":
			bs.TotalBalance = fl.EquityAmount
		case "Available Balance":
			bs.Available = fl.EquityAmount
		case "Utilized Amount":
			bs.Utilized = fl.EquityAmount
		}
	}
	return bs, nil
}

func (f *Fyers) GetSymbolInfo(ctx context.Context, symbol, instrumentType string) (SymbolInfo, error) {
	native, err := normalize.ToBrokerSymbol(symbol, "fyers")
	if err != nil {
		return SymbolInfo{}, err
	}
	var resp struct {
		D []struct {
			V struct {
				FyToken string `json:"fyToken"`
			} `json:"v"`
		} `json:"d"`
	}
	if _, err := f.doRaw(ctx, "GET", "symbol.info", map[string]any{"symbols": native}, &resp); err != nil {
		return SymbolInfo{}, fmt.Errorf("fyers symbol info %s: %w", symbol, err)
	}
	if len(resp.D) == 0 {
		return SymbolInfo{}, fmt.Errorf("fyers symbol info %s: not found", symbol)
	}
	return SymbolInfo{Symbol: native, InstrumentToken: resp.D[0].V.FyToken}, nil
}

func (f *Fyers) GetLTP(ctx context.Context, symbol string) (float64, error) {
	native, err := normalize.ToBrokerSymbol(symbol, "fyers")
	if err != nil {
		return 0, err
	}
	var resp struct {
		D []struct {
			V struct {
				LP float64 `json:"lp"`
			} `json:"v"`
		} `json:"d"`
	}
	if _, err := f.doRaw(ctx, "GET", "quotes", map[string]any{"symbols": native}, &resp); err != nil {
		return 0, fmt.Errorf("fyers ltp %s: %w", symbol, err)
	}
	if len(resp.D) == 0 {
		return 0, fmt.Errorf("fyers ltp %s: empty quote", symbol)
	}
	return resp.D[0].V.LP, nil
}

// do issues a request and decodes the JSON body into out.
func (f *Fyers) do(ctx context.Context, method, route string, payload map[string]any, out any) error {
	_, err := f.doRaw(ctx, method, route, payload, out)
	return err
}

// doRaw issues a request and returns the raw body alongside decoding it,
// so callers can persist the untouched broker response for audit.
func (f *Fyers) doRaw(ctx context.Context, method, route string, payload map[string]any, out any) (json.RawMessage, error) {
	endpoint := f.cfg.RootURL + fyersRoutes[route]
	var body io.Reader
	if method == "GET" && payload != nil {
		// symbols carry ':' and '&', so the query must be escaped
		q := url.Values{}
		for k, v := range payload {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		endpoint += "?" + q.Encode()
	} else if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	f.mu.RLock()
	if f.accessToken != "" {
		req.Header.Set("Authorization", f.cfg.AppID+":"+f.accessToken)
	}
	f.mu.RUnlock()

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return raw, fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return raw, nil
}
