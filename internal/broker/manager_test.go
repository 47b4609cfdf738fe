package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-execv1/internal/model"
)

// fakeBroker is a scriptable adapter for manager tests.
type fakeBroker struct {
	name      string
	loginErr  error
	placeErr  error
	exitErr   error
	placed    []model.OrderRequest
	exits     []ExitParams
	positions []model.BrokerPosition
	posErr    error
}

func (f *fakeBroker) Name() string                    { return f.name }
func (f *fakeBroker) Login(context.Context) error     { return f.loginErr }
func (f *fakeBroker) PlaceOrder(_ context.Context, req model.OrderRequest) (OrderAck, error) {
	if f.placeErr != nil {
		return OrderAck{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return OrderAck{OrderID: f.name + "-1", Status: "PENDING"}, nil
}
func (f *fakeBroker) CancelOrder(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeBroker) ExitOrder(_ context.Context, p ExitParams) (OrderAck, error) {
	if f.exitErr != nil {
		return OrderAck{}, f.exitErr
	}
	f.exits = append(f.exits, p)
	return OrderAck{OrderID: f.name + "-exit-1", Status: "PENDING"}, nil
}
func (f *fakeBroker) GetOrderDetails(context.Context) ([]model.BrokerOrderDetail, error) {
	return nil, nil
}
func (f *fakeBroker) GetPositions(context.Context) ([]model.BrokerPosition, error) {
	return f.positions, f.posErr
}
func (f *fakeBroker) GetBalanceSummary(context.Context) (model.BalanceSummary, error) {
	return model.BalanceSummary{BrokerName: f.name}, nil
}
func (f *fakeBroker) GetSymbolInfo(context.Context, string, string) (SymbolInfo, error) {
	return SymbolInfo{}, nil
}
func (f *fakeBroker) GetLTP(context.Context, string) (float64, error) { return 100, nil }

func validRequest() model.OrderRequest {
	return model.OrderRequest{
		Symbol:      "NIFTY16SEP2524950CE",
		Quantity:    75,
		Side:        model.SideBuy,
		OrderType:   model.OrderTypeMarket,
		ProductType: "INTRADAY",
		Validity:    "DAY",
		Exchange:    "NSE",
	}
}

func newTestManager(t *testing.T, brokers ...*fakeBroker) *Manager {
	t.Helper()
	m := NewManager(2 * time.Second)
	for i, b := range brokers {
		m.Register(int64(i+1), b)
	}
	m.Setup(context.Background())
	return m
}

func TestSetupIsolatesLoginFailure(t *testing.T) {
	good := &fakeBroker{name: "fyers"}
	bad := &fakeBroker{name: "zerodha", loginErr: errors.New("totp rejected")}
	m := newTestManager(t, good, bad)

	if _, ok := m.Broker("fyers"); !ok {
		t.Fatalf("fyers should be authenticated")
	}
	if _, ok := m.Broker("zerodha"); ok {
		t.Fatalf("zerodha login failed, should not be available")
	}
	if got := len(m.ActiveBrokers()); got != 1 {
		t.Fatalf("active brokers = %d, want 1", got)
	}
}

func TestPlaceOrderFanOutIsolatesFailure(t *testing.T) {
	good := &fakeBroker{name: "fyers"}
	bad := &fakeBroker{name: "zerodha", placeErr: errors.New("insufficient margin")}
	m := newTestManager(t, good, bad)

	results := m.PlaceOrder(context.Background(), func(string) (model.OrderRequest, error) {
		return validRequest(), nil
	})

	if len(results) != 2 {
		t.Fatalf("results = %d, want one per broker", len(results))
	}
	if results["fyers"].Err != nil {
		t.Errorf("fyers: unexpected error %v", results["fyers"].Err)
	}
	if results["fyers"].Ack.OrderID != "fyers-1" {
		t.Errorf("fyers ack = %q", results["fyers"].Ack.OrderID)
	}
	if results["zerodha"].Err == nil {
		t.Errorf("zerodha: expected error, got ack %+v", results["zerodha"].Ack)
	}
	if len(good.placed) != 1 {
		t.Errorf("fyers placed %d orders, want 1", len(good.placed))
	}
}

func TestPlaceOrderSkipsSuspendedBroker(t *testing.T) {
	a := &fakeBroker{name: "fyers"}
	b := &fakeBroker{name: "zerodha"}
	m := newTestManager(t, a, b)
	m.Suspend("zerodha", "max loss breached")

	results := m.PlaceOrder(context.Background(), func(string) (model.OrderRequest, error) {
		return validRequest(), nil
	})

	if _, ok := results["zerodha"]; ok {
		t.Fatalf("suspended broker received an entry")
	}
	if len(results) != 1 || results["fyers"].Err != nil {
		t.Fatalf("fyers should still place: %+v", results)
	}
}

func TestExitOrderReachesSuspendedBroker(t *testing.T) {
	b := &fakeBroker{name: "zerodha"}
	m := newTestManager(t, b)
	m.Suspend("zerodha", "max loss breached")

	results := m.ExitOrder(context.Background(), map[string]ExitParams{
		"zerodha": {Symbol: "NIFTY16SEP2524950CE", Side: "SELL", Quantity: 75},
	})
	if results["zerodha"].Err != nil {
		t.Fatalf("exit through suspended broker failed: %v", results["zerodha"].Err)
	}
	if len(b.exits) != 1 {
		t.Fatalf("exit not delivered, got %d", len(b.exits))
	}
}

func TestPlaceOrderRejectsInvalidRequest(t *testing.T) {
	b := &fakeBroker{name: "fyers"}
	m := newTestManager(t, b)

	results := m.PlaceOrder(context.Background(), func(string) (model.OrderRequest, error) {
		req := validRequest()
		req.Quantity = 0
		return req, nil
	})
	if results["fyers"].Err == nil {
		t.Fatalf("zero-quantity request should not reach the broker")
	}
	if len(b.placed) != 0 {
		t.Fatalf("broker received invalid request")
	}
}

func TestGetAllBrokerPositionsCollectsErrors(t *testing.T) {
	good := &fakeBroker{name: "fyers", positions: []model.BrokerPosition{{TradingSymbol: "NIFTY16SEP2524950CE", NetQty: 75}}}
	bad := &fakeBroker{name: "angel", posErr: errors.New("session expired")}
	m := newTestManager(t, good, bad)

	positions, errs := m.GetAllBrokerPositions(context.Background())
	if len(positions["fyers"]) != 1 {
		t.Errorf("fyers positions = %d, want 1", len(positions["fyers"]))
	}
	if _, ok := positions["angel"]; ok {
		t.Errorf("failed broker should be omitted from positions")
	}
	if errs["angel"] == nil {
		t.Errorf("angel error not reported")
	}
}
