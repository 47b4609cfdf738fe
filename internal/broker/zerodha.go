package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-execv1/internal/model"
	"trading-execv1/internal/normalize"
)

const zerodhaDefaultRoot = "https://api.kite.trade"

// ZerodhaConfig carries the credentials for one Kite Connect account.
type ZerodhaConfig struct {
	UserID     string
	Password   string
	APIKey     string
	APISecret  string
	TOTPSecret string
	RootURL    string
	Timeout    time.Duration
}

// Zerodha is the Kite Connect adapter. Kite speaks form-encoded requests
// and string status tokens ("COMPLETE", "TRIGGER PENDING", ...), all
// normalized before leaving this adapter.
type Zerodha struct {
	cfg  ZerodhaConfig
	http *http.Client

	mu          sync.RWMutex
	accessToken string
}

// NewZerodha creates an unauthenticated Kite adapter.
func NewZerodha(cfg ZerodhaConfig) *Zerodha {
	if cfg.RootURL == "" {
		cfg.RootURL = zerodhaDefaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Zerodha{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (z *Zerodha) Name() string { return "zerodha" }

// Login exchanges user/password + TOTP for a session token.
func (z *Zerodha) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(z.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("zerodha totp generate: %w", err)
	}
	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if _, err := z.do(ctx, "POST", "/session/token", url.Values{
		"user_id":  {z.cfg.UserID},
		"password": {z.cfg.Password},
		"twofa":    {code},
		"api_key":  {z.cfg.APIKey},
	}, &resp); err != nil {
		return fmt.Errorf("zerodha login: %w", err)
	}
	z.mu.Lock()
	z.accessToken = resp.Data.AccessToken
	z.mu.Unlock()
	return nil
}

func (z *Zerodha) PlaceOrder(ctx context.Context, req model.OrderRequest) (OrderAck, error) {
	native, err := normalize.ToBrokerSymbol(req.Symbol, "zerodha")
	if err != nil {
		return OrderAck{}, err
	}
	exch, tsym, _ := strings.Cut(native, ":")
	variety := req.Variety
	if variety == "" {
		variety = "regular"
	}
	form := url.Values{
		"exchange":         {exch},
		"tradingsymbol":    {tsym},
		"transaction_type": {normalize.Action(req.Side)},
		"order_type":       {normalize.OrderTypeCode("zerodha", req.OrderType)},
		"quantity":         {fmt.Sprintf("%d", req.Quantity)},
		"product":          {req.ProductType},
		"validity":         {req.Validity},
	}
	if req.Price > 0 {
		form.Set("price", fmt.Sprintf("%.2f", req.Price))
	}
	if req.TriggerPrice > 0 {
		form.Set("trigger_price", fmt.Sprintf("%.2f", req.TriggerPrice))
	}
	for k, v := range req.Extra {
		form.Set(k, v)
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
		Message string `json:"message"`
	}
	raw, err := z.do(ctx, "POST", "/orders/"+variety, form, &resp)
	if err != nil {
		return OrderAck{}, fmt.Errorf("zerodha place order: %w", err)
	}
	ack := OrderAck{OrderID: resp.Data.OrderID, Message: resp.Message, Raw: raw}
	if resp.Status == "success" {
		ack.Status = normalize.StatusPending
	} else {
		ack.Status = normalize.StatusRejected
	}
	return ack, nil
}

func (z *Zerodha) CancelOrder(ctx context.Context, brokerOrderID, symbol, productType, variety string) error {
	if variety == "" {
		variety = "regular"
	}
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if _, err := z.do(ctx, "DELETE", "/orders/"+variety+"/"+brokerOrderID, nil, &resp); err != nil {
		return fmt.Errorf("zerodha cancel %s: %w", brokerOrderID, err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("zerodha cancel %s: %s", brokerOrderID, resp.Message)
	}
	return nil
}

// ExitOrder flattens the leg with an opposite-side market order.
func (z *Zerodha) ExitOrder(ctx context.Context, p ExitParams) (OrderAck, error) {
	return z.PlaceOrder(ctx, model.OrderRequest{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		Side:        model.Side(p.Side),
		OrderType:   model.OrderTypeMarket,
		ProductType: p.ProductType,
		Validity:    "DAY",
		Variety:     p.Variety,
	})
}

func (z *Zerodha) GetOrderDetails(ctx context.Context) ([]model.BrokerOrderDetail, error) {
	var resp struct {
		Data []struct {
			OrderID         string  `json:"order_id"`
			TradingSymbol   string  `json:"tradingsymbol"`
			Exchange        string  `json:"exchange"`
			Status          string  `json:"status"`
			TransactionType string  `json:"transaction_type"`
			Product         string  `json:"product"`
			OrderType       string  `json:"order_type"`
			Quantity        int64   `json:"quantity"`
			FilledQuantity  int64   `json:"filled_quantity"`
			AveragePrice    float64 `json:"average_price"`
			OrderTimestamp  string  `json:"order_timestamp"`
		} `json:"data"`
	}
	if _, err := z.do(ctx, "GET", "/orders", nil, &resp); err != nil {
		return nil, fmt.Errorf("zerodha orders: %w", err)
	}
	out := make([]model.BrokerOrderDetail, 0, len(resp.Data))
	for _, o := range resp.Data {
		status := normalize.Status("zerodha", o.Status)
		if status == normalize.StatusFilled && o.FilledQuantity > 0 && o.FilledQuantity < o.Quantity {
			status = normalize.StatusPartial
		}
		ts, _ := time.Parse("2006-01-02 15:04:05", o.OrderTimestamp)
		out = append(out, model.BrokerOrderDetail{
			OrderID:     o.OrderID,
			Symbol:      o.Exchange + ":" + o.TradingSymbol,
			Status:      status,
			RawStatus:   o.Status,
			Action:      normalize.Action(o.TransactionType),
			ProductType: o.Product,
			OrderType:   o.OrderType,
			Qty:         o.Quantity,
			FilledQty:   o.FilledQuantity,
			AvgPrice:    o.AveragePrice,
			UpdateTime:  ts,
		})
	}
	return out, nil
}

func (z *Zerodha) GetPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var resp struct {
		Data struct {
			Net []struct {
				TradingSymbol     string  `json:"tradingsymbol"`
				Exchange          string  `json:"exchange"`
				Product           string  `json:"product"`
				Quantity          int64   `json:"quantity"`
				BuyQuantity       int64   `json:"buy_quantity"`
				OvernightQuantity int64   `json:"overnight_quantity"`
				SellQuantity      int64   `json:"sell_quantity"`
				BuyPrice          float64 `json:"buy_price"`
				SellPrice         float64 `json:"sell_price"`
				LastPrice         float64 `json:"last_price"`
				PnL               float64 `json:"pnl"`
			} `json:"net"`
		} `json:"data"`
	}
	if _, err := z.do(ctx, "GET", "/portfolio/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("zerodha positions: %w", err)
	}
	out := make([]model.BrokerPosition, 0, len(resp.Data.Net))
	for _, p := range resp.Data.Net {
		out = append(out, model.BrokerPosition{
			TradingSymbol: p.TradingSymbol,
			Exchange:      p.Exchange,
			Product:       p.Product,
			NetQty:        p.Quantity,
			BuyQty:        p.BuyQuantity,
			OvernightQty:  p.OvernightQuantity,
			SellQty:       p.SellQuantity,
			BuyPrice:      p.BuyPrice,
			SellPrice:     p.SellPrice,
			LastPrice:     p.LastPrice,
			DayPnL:        p.PnL,
		})
	}
	return out, nil
}

func (z *Zerodha) GetBalanceSummary(ctx context.Context) (model.BalanceSummary, error) {
	var resp struct {
		Data struct {
			Net       float64 `json:"net"`
			Available struct {
				LiveBalance float64 `json:"live_balance"`
			} `json:"available"`
			Utilised struct {
				Debits float64 `json:"debits"`
			} `json:"utilised"`
		} `json:"data"`
	}
	if _, err := z.do(ctx, "GET", "/user/margins/equity", nil, &resp); err != nil {
		return model.BalanceSummary{}, fmt.Errorf("zerodha margins: %w", err)
	}
	return model.BalanceSummary{
		BrokerName:   "zerodha",
		TotalBalance: resp.Data.Net,
		Available:    resp.Data.Available.LiveBalance,
		Utilized:     resp.Data.Utilised.Debits,
		FetchedAt:    time.Now(),
	}, nil
}

func (z *Zerodha) GetSymbolInfo(ctx context.Context, symbol, instrumentType string) (SymbolInfo, error) {
	native, err := normalize.ToBrokerSymbol(symbol, "zerodha")
	if err != nil {
		return SymbolInfo{}, err
	}
	var resp struct {
		Data map[string]struct {
			InstrumentToken int64 `json:"instrument_token"`
		} `json:"data"`
	}
	if _, err := z.do(ctx, "GET", "/quote/ltp?i="+url.QueryEscape(native), nil, &resp); err != nil {
		return SymbolInfo{}, fmt.Errorf("zerodha symbol info %s: %w", symbol, err)
	}
	q, ok := resp.Data[native]
	if !ok {
		return SymbolInfo{}, fmt.Errorf("zerodha symbol info %s: not found", symbol)
	}
	return SymbolInfo{Symbol: native, InstrumentToken: fmt.Sprintf("%d", q.InstrumentToken)}, nil
}

func (z *Zerodha) GetLTP(ctx context.Context, symbol string) (float64, error) {
	native, err := normalize.ToBrokerSymbol(symbol, "zerodha")
	if err != nil {
		return 0, err
	}
	var resp struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	if _, err := z.do(ctx, "GET", "/quote/ltp?i="+url.QueryEscape(native), nil, &resp); err != nil {
		return 0, fmt.Errorf("zerodha ltp %s: %w", symbol, err)
	}
	q, ok := resp.Data[native]
	if !ok {
		return 0, fmt.Errorf("zerodha ltp %s: empty quote", symbol)
	}
	return q.LastPrice, nil
}

// do issues a form-encoded Kite request and returns the raw body.
func (z *Zerodha) do(ctx context.Context, method, path string, form url.Values, out any) (json.RawMessage, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, z.cfg.RootURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", "3")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	z.mu.RLock()
	if z.accessToken != "" {
		req.Header.Set("Authorization", "token "+z.cfg.APIKey+":"+z.accessToken)
	}
	z.mu.RUnlock()

	resp, err := z.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return raw, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return raw, nil
}
