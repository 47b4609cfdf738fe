package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/model"
	"trading-execv1/internal/ordercache"
)

type memStore struct {
	mu       sync.Mutex
	orders   map[int64]model.Order
	execs    map[int64]model.BrokerExecution
	nextExec int64
	balances map[string]model.BalanceSummary
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[int64]model.Order),
		execs:    make(map[int64]model.BrokerExecution),
		balances: make(map[string]model.BalanceSummary),
	}
}

func (s *memStore) putOrder(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *memStore) putExec(e model.BrokerExecution) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExec++
	e.ID = s.nextExec
	s.execs[e.ID] = e
	return e.ID
}

func (s *memStore) order(id int64) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) ListOpenOrders(context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) ExecutionsForOrder(_ context.Context, parentID int64, side model.ExecutionSide) ([]model.BrokerExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BrokerExecution
	for _, e := range s.execs {
		if e.ParentOrderID == parentID && e.Side == side {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) UpdateExecution(_ context.Context, e *model.BrokerExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[e.ID] = *e
	return nil
}

func (s *memStore) TransitionOrder(_ context.Context, id int64, to model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	if !model.CanTransition(o.Status, to) {
		return fmt.Errorf("illegal transition %s → %s", o.Status, to)
	}
	o.Status = to
	s.orders[id] = o
	return nil
}

func (s *memStore) SetOrderEntry(_ context.Context, id int64, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.EntryPrice = price
	o.EntryTime = at
	s.orders[id] = o
	return nil
}

func (s *memStore) UpdateOrderPrice(_ context.Context, id int64, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.CurrentPrice = price
	o.PriceLastUpdated = at
	s.orders[id] = o
	return nil
}

func (s *memStore) CloseOrder(_ context.Context, id int64, exitPrice, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	if !model.CanTransition(o.Status, model.StatusClosed) {
		return fmt.Errorf("illegal close from %s", o.Status)
	}
	o.Status = model.StatusClosed
	o.ExitPrice = exitPrice
	o.PnL = pnl
	s.orders[id] = o
	return nil
}

func (s *memStore) UpsertBalanceSummary(_ context.Context, b model.BalanceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[b.BrokerName] = b
	return nil
}

// bookBroker serves a scripted order book and position book.
type bookBroker struct {
	name      string
	book      []model.BrokerOrderDetail
	positions []model.BrokerPosition
	balance   model.BalanceSummary
}

func (b *bookBroker) Name() string                { return b.name }
func (b *bookBroker) Login(context.Context) error { return nil }
func (b *bookBroker) PlaceOrder(context.Context, model.OrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{}, nil
}
func (b *bookBroker) CancelOrder(context.Context, string, string, string, string) error { return nil }
func (b *bookBroker) ExitOrder(context.Context, broker.ExitParams) (broker.OrderAck, error) {
	return broker.OrderAck{}, nil
}
func (b *bookBroker) GetOrderDetails(context.Context) ([]model.BrokerOrderDetail, error) {
	return b.book, nil
}
func (b *bookBroker) GetPositions(context.Context) ([]model.BrokerPosition, error) {
	return b.positions, nil
}
func (b *bookBroker) GetBalanceSummary(context.Context) (model.BalanceSummary, error) {
	return b.balance, nil
}
func (b *bookBroker) GetSymbolInfo(context.Context, string, string) (broker.SymbolInfo, error) {
	return broker.SymbolInfo{}, nil
}
func (b *bookBroker) GetLTP(context.Context, string) (float64, error) { return 190.0, nil }

func setupMonitor(t *testing.T, brokers ...*bookBroker) (*OrderMonitor, *memStore, *ordercache.Cache) {
	t.Helper()
	bm := broker.NewManager(2 * time.Second)
	for i, b := range brokers {
		bm.Register(int64(i+1), b)
	}
	bm.Setup(context.Background())
	cache := ordercache.New(bm)
	cache.Refresh(context.Background())
	store := newMemStore()
	return NewOrderMonitor(store, cache, bm, time.Second, nil), store, cache
}

func TestEntryAckMovesAwaitingToOpen(t *testing.T) {
	fy := &bookBroker{name: "fyers", book: []model.BrokerOrderDetail{
		{OrderID: "F1", Status: "FILLED", FilledQty: 75, AvgPrice: 187.45},
	}}
	om, store, _ := setupMonitor(t, fy)

	store.putOrder(model.Order{ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75, Status: model.StatusAwaitingEntry})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "fyers", BrokerOrderID: "F1",
		Side: model.ExecutionEntry, Action: "BUY", Status: "PENDING", ProductType: "INTRADAY",
	})

	om.Tick(context.Background())

	got := store.order(1)
	if got.Status != model.StatusOpen {
		t.Fatalf("status = %s, want OPEN", got.Status)
	}
	if math.Abs(got.EntryPrice-187.45) > 1e-9 {
		t.Errorf("entry price = %v, want fill vwap 187.45", got.EntryPrice)
	}
	if got.CurrentPrice != 190.0 {
		t.Errorf("current price = %v, want ltp 190.0", got.CurrentPrice)
	}
}

func TestAllRejectedMovesAwaitingToRejected(t *testing.T) {
	fy := &bookBroker{name: "fyers", book: []model.BrokerOrderDetail{
		{OrderID: "F1", Status: "REJECTED"},
	}}
	om, store, _ := setupMonitor(t, fy)

	store.putOrder(model.Order{ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75, Status: model.StatusAwaitingEntry})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "fyers", BrokerOrderID: "F1",
		Side: model.ExecutionEntry, Action: "BUY", Status: "PENDING", ProductType: "INTRADAY",
	})

	om.Tick(context.Background())

	if got := store.order(1); got.Status != model.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", got.Status)
	}
}

func TestPartialFillTogglesStatus(t *testing.T) {
	fy := &bookBroker{name: "fyers", book: []model.BrokerOrderDetail{
		{OrderID: "F1", Status: "PARTIAL", FilledQty: 25, AvgPrice: 187.0},
	}}
	om, store, _ := setupMonitor(t, fy)

	store.putOrder(model.Order{ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75, Status: model.StatusAwaitingEntry})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "fyers", BrokerOrderID: "F1",
		Side: model.ExecutionEntry, Action: "BUY", Status: "PENDING", ProductType: "INTRADAY",
	})

	om.Tick(context.Background())
	if got := store.order(1); got.Status != model.StatusPartiallyFilled {
		t.Fatalf("status = %s, want PARTIALLY_FILLED", got.Status)
	}
}

func TestRejectedLegDoesNotParkPartialFill(t *testing.T) {
	fy := &bookBroker{name: "fyers", book: []model.BrokerOrderDetail{
		{OrderID: "F1", Status: "FILLED", FilledQty: 75, AvgPrice: 187.45},
	}}
	zr := &bookBroker{name: "zerodha", book: []model.BrokerOrderDetail{
		{OrderID: "Z1", Status: "REJECTED"},
	}}
	om, store, _ := setupMonitor(t, fy, zr)

	// one broker filled in full, the other rejected its leg outright
	store.putOrder(model.Order{ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75, Status: model.StatusPartiallyFilled})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "fyers", BrokerOrderID: "F1",
		Side: model.ExecutionEntry, Action: "BUY", Status: "PENDING", ProductType: "INTRADAY",
	})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "zerodha", BrokerOrderID: "Z1",
		Side: model.ExecutionEntry, Action: "BUY", Status: "PENDING", ProductType: "MIS",
	})

	om.Tick(context.Background())

	if got := store.order(1); got.Status != model.StatusOpen {
		t.Fatalf("status = %s, want OPEN: the rejected leg will never fill", got.Status)
	}
}

func TestExitConfirmationClosesWithVWAPAndPnL(t *testing.T) {
	fy := &bookBroker{name: "fyers", book: []model.BrokerOrderDetail{
		{OrderID: "FX1", Status: "FILLED", FilledQty: 50, AvgPrice: 200.0},
	}}
	zr := &bookBroker{name: "zerodha", book: []model.BrokerOrderDetail{
		{OrderID: "ZX1", Status: "FILLED", FilledQty: 25, AvgPrice: 203.0},
	}}
	om, store, _ := setupMonitor(t, fy, zr)

	store.putOrder(model.Order{
		ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75,
		EntryPrice: 187.0, Status: model.StatusExitManualPending,
	})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "fyers", BrokerOrderID: "FX1",
		Side: model.ExecutionExit, Action: "SELL", Status: "PENDING", ProductType: "INTRADAY",
	})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "zerodha", BrokerOrderID: "ZX1",
		Side: model.ExecutionExit, Action: "SELL", Status: "PENDING", ProductType: "MIS",
	})

	om.Tick(context.Background())

	got := store.order(1)
	if got.Status != model.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", got.Status)
	}
	wantVWAP := (50*200.0 + 25*203.0) / 75.0
	if math.Abs(got.ExitPrice-wantVWAP) > 1e-9 {
		t.Errorf("exit price = %v, want vwap %v", got.ExitPrice, wantVWAP)
	}
	wantPnL := (wantVWAP - 187.0) * 75
	if math.Abs(got.PnL-wantPnL) > 1e-9 {
		t.Errorf("pnl = %v, want %v", got.PnL, wantPnL)
	}
}

func TestPendingExitLegKeepsOrderPending(t *testing.T) {
	fy := &bookBroker{name: "fyers", book: []model.BrokerOrderDetail{
		{OrderID: "FX1", Status: "OPEN"},
	}}
	om, store, _ := setupMonitor(t, fy)

	store.putOrder(model.Order{ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75, Status: model.StatusExitTargetPending})
	store.putExec(model.BrokerExecution{
		ParentOrderID: 1, BrokerName: "fyers", BrokerOrderID: "FX1",
		Side: model.ExecutionExit, Action: "SELL", Status: "PENDING", ProductType: "INTRADAY",
	})

	om.Tick(context.Background())
	if got := store.order(1); got.Status != model.StatusExitTargetPending {
		t.Fatalf("status = %s, want unchanged EXIT_TARGET_PENDING", got.Status)
	}
}

func TestBalanceMonitorUpsertsPerBroker(t *testing.T) {
	fy := &bookBroker{name: "fyers", balance: model.BalanceSummary{TotalBalance: 100000, Available: 60000, Utilized: 40000}}
	zr := &bookBroker{name: "zerodha", balance: model.BalanceSummary{TotalBalance: 50000, Available: 50000}}
	bm := broker.NewManager(2 * time.Second)
	bm.Register(1, fy)
	bm.Register(2, zr)
	bm.Setup(context.Background())
	store := newMemStore()

	mon := NewBalanceMonitor(store, bm, time.Second, nil)
	mon.Tick(context.Background())

	if len(store.balances) != 2 {
		t.Fatalf("balances = %d, want one per broker", len(store.balances))
	}
	if b := store.balances["fyers"]; b.TotalBalance != 100000 || b.BrokerID != 1 {
		t.Errorf("fyers balance = %+v", b)
	}
}

func TestPositionMonitorMatch(t *testing.T) {
	order := model.Order{ID: 1, Symbol: "NIFTY16SEP2524950CE", Side: "BUY", Qty: 75, EntryPrice: 187.45, Status: model.StatusOpen}
	entry := model.BrokerExecution{BrokerName: "zerodha", ExecutedQty: 75, ProductType: "MIS", Status: "FILLED"}

	book := []model.BrokerPosition{{
		TradingSymbol: "NFO:NIFTY16SEP2524950CE", Product: "MIS",
		BuyQty: 75, BuyPrice: 187.45,
	}}
	if _, ok := matchPosition(order, entry, book, "zerodha"); !ok {
		t.Errorf("expected a match on (symbol, qty, product, entry price)")
	}

	// overnight quantity also matches
	book[0].BuyQty = 0
	book[0].OvernightQty = 75
	if _, ok := matchPosition(order, entry, book, "zerodha"); !ok {
		t.Errorf("overnight quantity should match")
	}

	// wrong product type does not
	book[0].Product = "NRML"
	if _, ok := matchPosition(order, entry, book, "zerodha"); ok {
		t.Errorf("product mismatch should not match")
	}
}

func TestPositionMonitorAllocatesBrokerDayPnL(t *testing.T) {
	entry := model.BrokerExecution{BrokerName: "zerodha", ExecutedQty: 75, ProductType: "MIS", Status: "FILLED"}

	// this order bought 75 of the broker's 150 total, so it carries half
	// of the broker-reported day PnL
	share, ok := brokerPnLShare(entry, model.BrokerPosition{BuyQty: 150, DayPnL: 3000})
	if !ok {
		t.Fatal("expected a share against a non-empty position")
	}
	if math.Abs(share-1500) > 1e-9 {
		t.Errorf("share = %v, want 1500", share)
	}

	// carried-over positions report quantity under overnight_quantity
	share, ok = brokerPnLShare(entry, model.BrokerPosition{OvernightQty: 75, DayPnL: -500})
	if !ok || math.Abs(share-(-500)) > 1e-9 {
		t.Errorf("overnight share = %v (ok=%v), want -500", share, ok)
	}

	// no executed quantity means no basis for an allocation
	if _, ok := brokerPnLShare(model.BrokerExecution{}, model.BrokerPosition{BuyQty: 150, DayPnL: 3000}); ok {
		t.Errorf("zero executed quantity should not allocate")
	}
}
