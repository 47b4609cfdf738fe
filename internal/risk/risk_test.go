package risk

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/markethours"
	"trading-execv1/internal/model"
)

type pnlBroker struct {
	name   string
	dayPnL float64
}

func (b *pnlBroker) Name() string                { return b.name }
func (b *pnlBroker) Login(context.Context) error { return nil }
func (b *pnlBroker) PlaceOrder(context.Context, model.OrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{}, nil
}
func (b *pnlBroker) CancelOrder(context.Context, string, string, string, string) error { return nil }
func (b *pnlBroker) ExitOrder(context.Context, broker.ExitParams) (broker.OrderAck, error) {
	return broker.OrderAck{}, nil
}
func (b *pnlBroker) GetOrderDetails(context.Context) ([]model.BrokerOrderDetail, error) {
	return nil, nil
}
func (b *pnlBroker) GetPositions(context.Context) ([]model.BrokerPosition, error) {
	return []model.BrokerPosition{{TradingSymbol: "NIFTY16SEP2524950CE", DayPnL: b.dayPnL}}, nil
}
func (b *pnlBroker) GetBalanceSummary(context.Context) (model.BalanceSummary, error) {
	return model.BalanceSummary{}, nil
}
func (b *pnlBroker) GetSymbolInfo(context.Context, string, string) (broker.SymbolInfo, error) {
	return broker.SymbolInfo{}, nil
}
func (b *pnlBroker) GetLTP(context.Context, string) (float64, error) { return 0, nil }

type countingExiter struct{ calls atomic.Int64 }

func (e *countingExiter) ExitAll(context.Context, string) error {
	e.calls.Add(1)
	return nil
}

func sessionTime() time.Time {
	// Tuesday 2026-09-15 12:00 IST, mid session
	return time.Date(2026, time.September, 15, 12, 0, 0, 0, markethours.IST)
}

func closedTime() time.Time {
	// exactly at close, which counts as closed
	return time.Date(2026, time.September, 15, 15, 30, 0, 0, markethours.IST)
}

func setup(t *testing.T, pnl float64) (*Manager, *countingExiter, *broker.Manager) {
	t.Helper()
	bm := broker.NewManager(2 * time.Second)
	bm.Register(1, &pnlBroker{name: "fyers", dayPnL: pnl})
	bm.Setup(context.Background())
	exiter := &countingExiter{}
	m := NewManager(bm, exiter, nil, nil, time.Second)
	return m, exiter, bm
}

func TestCheckIsNoopOutsideMarketHours(t *testing.T) {
	m, exiter, _ := setup(t, -100000)
	m.SetLimits("fyers", Limits{MaxLoss: 5000})
	m.now = closedTime

	m.CheckBrokerRiskLimits(context.Background())
	if exiter.calls.Load() != 0 {
		t.Fatalf("risk check ran at the close boundary")
	}
}

func TestMaxLossBreachExitsAndSuspends(t *testing.T) {
	m, exiter, bm := setup(t, -6000)
	m.SetLimits("fyers", Limits{MaxLoss: 5000})
	m.now = sessionTime

	m.CheckBrokerRiskLimits(context.Background())
	if exiter.calls.Load() != 1 {
		t.Fatalf("exit-all calls = %d, want 1", exiter.calls.Load())
	}
	if !bm.IsSuspended("fyers") {
		t.Fatalf("breached broker should be suspended from new entries")
	}

	// a second tick must not re-trip
	m.CheckBrokerRiskLimits(context.Background())
	if exiter.calls.Load() != 1 {
		t.Fatalf("breach re-tripped, calls = %d", exiter.calls.Load())
	}
}

func TestMaxProfitBreach(t *testing.T) {
	m, exiter, _ := setup(t, 12000)
	m.SetLimits("fyers", Limits{MaxProfit: 10000})
	m.now = sessionTime

	m.CheckBrokerRiskLimits(context.Background())
	if exiter.calls.Load() != 1 {
		t.Fatalf("max profit breach should exit all")
	}
}

func TestWithinLimitsDoesNothing(t *testing.T) {
	m, exiter, bm := setup(t, -2000)
	m.SetLimits("fyers", Limits{MaxLoss: 5000, MaxProfit: 10000})
	m.now = sessionTime

	m.CheckBrokerRiskLimits(context.Background())
	if exiter.calls.Load() != 0 {
		t.Fatalf("within limits should not exit")
	}
	if bm.IsSuspended("fyers") {
		t.Fatalf("within limits should not suspend")
	}
}

func TestResetLiftsSuspension(t *testing.T) {
	m, _, bm := setup(t, -6000)
	m.SetLimits("fyers", Limits{MaxLoss: 5000})
	m.now = sessionTime

	m.CheckBrokerRiskLimits(context.Background())
	if !bm.IsSuspended("fyers") {
		t.Fatalf("expected suspension after breach")
	}
	m.Reset("fyers")
	if bm.IsSuspended("fyers") {
		t.Fatalf("reset should lift the suspension")
	}
}
