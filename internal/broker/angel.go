package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-execv1/internal/model"
	"trading-execv1/internal/normalize"
)

const angelDefaultRoot = "https://apiconnect.angelone.in"

var angelRoutes = map[string]string{
	"login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"order.place":  "/rest/secure/angelbroking/order/v1/placeOrder",
	"order.cancel": "/rest/secure/angelbroking/order/v1/cancelOrder",
	"order.book":   "/rest/secure/angelbroking/order/v1/getOrderBook",
	"positions":    "/rest/secure/angelbroking/order/v1/getPosition",
	"rms":          "/rest/secure/angelbroking/user/v1/getRMS",
	"ltp":          "/rest/secure/angelbroking/order/v1/getLtpData",
	"search":       "/rest/secure/angelbroking/order/v1/searchScrip",
}

// AngelConfig carries the credentials for one Angel One SmartAPI account.
type AngelConfig struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	RootURL    string
	Timeout    time.Duration
}

// Angel is the Angel One SmartAPI adapter. Sessions are JWT tokens issued
// by loginByPassword with a locally generated TOTP.
type Angel struct {
	cfg  AngelConfig
	http *http.Client

	mu       sync.RWMutex
	jwtToken string
}

// NewAngel creates an unauthenticated Angel One adapter.
func NewAngel(cfg AngelConfig) *Angel {
	if cfg.RootURL == "" {
		cfg.RootURL = angelDefaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Angel{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *Angel) Name() string { return "angel" }

// Login generates a session via clientcode + password + TOTP.
func (a *Angel) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(a.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("angel totp generate: %w", err)
	}
	var resp struct {
		Status bool   `json:"status"`
		Msg    string `json:"message"`
		Data   struct {
			JWTToken string `json:"jwtToken"`
		} `json:"data"`
	}
	if _, err := a.do(ctx, "login", map[string]any{
		"clientcode": a.cfg.ClientCode,
		"password":   a.cfg.Password,
		"totp":       code,
	}, &resp); err != nil {
		return fmt.Errorf("angel login: %w", err)
	}
	if !resp.Status {
		return fmt.Errorf("angel login: %s", resp.Msg)
	}
	a.mu.Lock()
	a.jwtToken = resp.Data.JWTToken
	a.mu.Unlock()
	return nil
}

func (a *Angel) PlaceOrder(ctx context.Context, req model.OrderRequest) (OrderAck, error) {
	native, err := normalize.ToBrokerSymbol(req.Symbol, "angel")
	if err != nil {
		return OrderAck{}, err
	}
	variety := req.Variety
	if variety == "" {
		variety = "NORMAL"
	}
	payload := map[string]any{
		"tradingsymbol":   native,
		"exchange":        req.Exchange,
		"transactiontype": normalize.Action(req.Side),
		"ordertype":       normalize.OrderTypeCode("angel", req.OrderType),
		"producttype":     req.ProductType,
		"duration":        req.Validity,
		"variety":         variety,
		"quantity":        strconv.FormatInt(req.Quantity, 10),
	}
	if req.Price > 0 {
		payload["price"] = fmt.Sprintf("%.2f", req.Price)
	}
	if req.TriggerPrice > 0 {
		payload["triggerprice"] = fmt.Sprintf("%.2f", req.TriggerPrice)
	}
	for k, v := range req.Extra {
		payload[k] = v
	}

	var resp struct {
		Status bool   `json:"status"`
		Msg    string `json:"message"`
		Data   struct {
			OrderID string `json:"orderid"`
		} `json:"data"`
	}
	raw, err := a.do(ctx, "order.place", payload, &resp)
	if err != nil {
		return OrderAck{}, fmt.Errorf("angel place order: %w", err)
	}
	ack := OrderAck{OrderID: resp.Data.OrderID, Message: resp.Msg, Raw: raw}
	if resp.Status {
		ack.Status = normalize.StatusPending
	} else {
		ack.Status = normalize.StatusRejected
	}
	return ack, nil
}

func (a *Angel) CancelOrder(ctx context.Context, brokerOrderID, symbol, productType, variety string) error {
	if variety == "" {
		variety = "NORMAL"
	}
	var resp struct {
		Status bool   `json:"status"`
		Msg    string `json:"message"`
	}
	if _, err := a.do(ctx, "order.cancel", map[string]any{
		"variety": variety, "orderid": brokerOrderID,
	}, &resp); err != nil {
		return fmt.Errorf("angel cancel %s: %w", brokerOrderID, err)
	}
	if !resp.Status {
		return fmt.Errorf("angel cancel %s: %s", brokerOrderID, resp.Msg)
	}
	return nil
}

// ExitOrder flattens the leg with an opposite-side market order.
func (a *Angel) ExitOrder(ctx context.Context, p ExitParams) (OrderAck, error) {
	return a.PlaceOrder(ctx, model.OrderRequest{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		Side:        model.Side(p.Side),
		OrderType:   model.OrderTypeMarket,
		ProductType: p.ProductType,
		Validity:    "DAY",
		Exchange:    "NFO",
		Variety:     p.Variety,
	})
}

func (a *Angel) GetOrderDetails(ctx context.Context) ([]model.BrokerOrderDetail, error) {
	var resp struct {
		Data []struct {
			OrderID         string `json:"orderid"`
			TradingSymbol   string `json:"tradingsymbol"`
			Status          string `json:"status"`
			TransactionType string `json:"transactiontype"`
			ProductType     string `json:"producttype"`
			OrderType       string `json:"ordertype"`
			Quantity        string `json:"quantity"`
			FilledShares    string `json:"filledshares"`
			AveragePrice    float64 `json:"averageprice"`
			UpdateTime      string `json:"updatetime"`
		} `json:"data"`
	}
	if _, err := a.do(ctx, "order.book", nil, &resp); err != nil {
		return nil, fmt.Errorf("angel order book: %w", err)
	}
	out := make([]model.BrokerOrderDetail, 0, len(resp.Data))
	for _, o := range resp.Data {
		qty, _ := strconv.ParseInt(o.Quantity, 10, 64)
		filled, _ := strconv.ParseInt(o.FilledShares, 10, 64)
		status := normalize.Status("angel", o.Status)
		if status == normalize.StatusFilled && filled > 0 && filled < qty {
			status = normalize.StatusPartial
		}
		ts, _ := time.Parse("02-Jan-2006 15:04:05", o.UpdateTime)
		out = append(out, model.BrokerOrderDetail{
			OrderID:     o.OrderID,
			Symbol:      o.TradingSymbol,
			Status:      status,
			RawStatus:   o.Status,
			Action:      normalize.Action(o.TransactionType),
			ProductType: o.ProductType,
			OrderType:   o.OrderType,
			Qty:         qty,
			FilledQty:   filled,
			AvgPrice:    o.AveragePrice,
			UpdateTime:  ts,
		})
	}
	return out, nil
}

func (a *Angel) GetPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var resp struct {
		Data []struct {
			TradingSymbol string `json:"tradingsymbol"`
			Exchange      string `json:"exchange"`
			ProductType   string `json:"producttype"`
			NetQty        string `json:"netqty"`
			BuyQty        string `json:"buyqty"`
			CFBuyQty      string `json:"cfbuyqty"`
			SellQty       string `json:"sellqty"`
			BuyAvgPrice   string `json:"buyavgprice"`
			SellAvgPrice  string `json:"sellavgprice"`
			LTP           string `json:"ltp"`
			PnL           string `json:"pnl"`
		} `json:"data"`
	}
	if _, err := a.do(ctx, "positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("angel positions: %w", err)
	}
	out := make([]model.BrokerPosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		netQty, _ := strconv.ParseInt(p.NetQty, 10, 64)
		buyQty, _ := strconv.ParseInt(p.BuyQty, 10, 64)
		cfQty, _ := strconv.ParseInt(p.CFBuyQty, 10, 64)
		sellQty, _ := strconv.ParseInt(p.SellQty, 10, 64)
		buyPrice, _ := strconv.ParseFloat(p.BuyAvgPrice, 64)
		sellPrice, _ := strconv.ParseFloat(p.SellAvgPrice, 64)
		ltp, _ := strconv.ParseFloat(p.LTP, 64)
		pnl, _ := strconv.ParseFloat(p.PnL, 64)
		out = append(out, model.BrokerPosition{
			TradingSymbol: p.TradingSymbol,
			Exchange:      p.Exchange,
			Product:       p.ProductType,
			NetQty:        netQty,
			BuyQty:        buyQty,
			OvernightQty:  cfQty,
			SellQty:       sellQty,
			BuyPrice:      buyPrice,
			SellPrice:     sellPrice,
			LastPrice:     ltp,
			DayPnL:        pnl,
		})
	}
	return out, nil
}

func (a *Angel) GetBalanceSummary(ctx context.Context) (model.BalanceSummary, error) {
	var resp struct {
		Data struct {
			Net              string `json:"net"`
			AvailableCash    string `json:"availablecash"`
			UtilisedDebits   string `json:"utiliseddebits"`
		} `json:"data"`
	}
	if _, err := a.do(ctx, "rms", nil, &resp); err != nil {
		return model.BalanceSummary{}, fmt.Errorf("angel rms: %w", err)
	}
	total, _ := strconv.ParseFloat(resp.Data.Net, 64)
	avail, _ := strconv.ParseFloat(resp.Data.AvailableCash, 64)
	used, _ := strconv.ParseFloat(resp.Data.UtilisedDebits, 64)
	return model.BalanceSummary{
		BrokerName:   "angel",
		TotalBalance: total,
		Available:    avail,
		Utilized:     used,
		FetchedAt:    time.Now(),
	}, nil
}

func (a *Angel) GetSymbolInfo(ctx context.Context, symbol, instrumentType string) (SymbolInfo, error) {
	native, err := normalize.ToBrokerSymbol(symbol, "angel")
	if err != nil {
		return SymbolInfo{}, err
	}
	var resp struct {
		Data []struct {
			TradingSymbol string `json:"tradingsymbol"`
			SymbolToken   string `json:"symboltoken"`
		} `json:"data"`
	}
	if _, err := a.do(ctx, "search", map[string]any{
		"exchange": "NFO", "searchscrip": native,
	}, &resp); err != nil {
		return SymbolInfo{}, fmt.Errorf("angel search %s: %w", symbol, err)
	}
	if len(resp.Data) == 0 {
		return SymbolInfo{}, fmt.Errorf("angel search %s: not found", symbol)
	}
	return SymbolInfo{Symbol: resp.Data[0].TradingSymbol, InstrumentToken: resp.Data[0].SymbolToken}, nil
}

func (a *Angel) GetLTP(ctx context.Context, symbol string) (float64, error) {
	info, err := a.GetSymbolInfo(ctx, symbol, "OPTIDX")
	if err != nil {
		return 0, err
	}
	var resp struct {
		Data struct {
			LTP float64 `json:"ltp"`
		} `json:"data"`
	}
	if _, err := a.do(ctx, "ltp", map[string]any{
		"exchange": "NFO", "tradingsymbol": info.Symbol, "symboltoken": info.InstrumentToken,
	}, &resp); err != nil {
		return 0, fmt.Errorf("angel ltp %s: %w", symbol, err)
	}
	return resp.Data.LTP, nil
}

// do issues a SmartAPI JSON request with the session headers and returns
// the raw body for audit storage.
func (a *Angel) do(ctx context.Context, route string, payload map[string]any, out any) (json.RawMessage, error) {
	var body io.Reader
	method := "GET"
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		method = "POST"
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.RootURL+angelRoutes[route], body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PrivateKey", a.cfg.APIKey)
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-UserType", "USER")
	a.mu.RLock()
	if a.jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.jwtToken)
	}
	a.mu.RUnlock()

	resp, err := a.http.Do(req)
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
