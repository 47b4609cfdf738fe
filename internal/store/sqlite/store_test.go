package sqlite

import (
	"context"
	"testing"
	"time"

	"trading-execv1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedOrder(t *testing.T, s *Store) model.Order {
	t.Helper()
	o := model.Order{
		StrategyID:       1,
		StrategySymbolID: 10,
		Symbol:           "NIFTY16SEP2524950CE",
		Side:             "BUY",
		Qty:              75,
		EntryPrice:       187.45,
		Status:           model.StatusAwaitingEntry,
		SignalTime:       time.Date(2026, time.September, 15, 9, 30, 0, 0, time.UTC),
	}
	if err := s.InsertOrder(context.Background(), &o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return o
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	o := seedOrder(t, s)

	got, err := s.GetOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Symbol != o.Symbol || got.Status != model.StatusAwaitingEntry || got.Qty != 75 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.SignalTime.Equal(o.SignalTime) {
		t.Errorf("signal time = %s, want %s", got.SignalTime, o.SignalTime)
	}
	if !got.EntryTime.IsZero() {
		t.Errorf("unset entry time should come back zero, got %s", got.EntryTime)
	}
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	s := newTestStore(t)
	o := seedOrder(t, s)
	ctx := context.Background()

	// the banned shortcut
	if err := s.TransitionOrder(ctx, o.ID, model.StatusClosed); err == nil {
		t.Fatalf("AWAITING_ENTRY → CLOSED must be rejected")
	}

	if err := s.TransitionOrder(ctx, o.ID, model.StatusOpen); err != nil {
		t.Fatalf("AWAITING_ENTRY → OPEN: %v", err)
	}
	if err := s.TransitionOrder(ctx, o.ID, model.StatusExitTargetPending); err != nil {
		t.Fatalf("OPEN → EXIT_TARGET_PENDING: %v", err)
	}
	if err := s.TransitionOrder(ctx, o.ID, model.StatusClosed); err != nil {
		t.Fatalf("EXIT_TARGET_PENDING → CLOSED: %v", err)
	}

	// terminal is absorbing
	if err := s.TransitionOrder(ctx, o.ID, model.StatusOpen); err == nil {
		t.Fatalf("CLOSED must never go back to OPEN")
	}
}

func TestEntryRowUniquePerBroker(t *testing.T) {
	s := newTestStore(t)
	o := seedOrder(t, s)
	ctx := context.Background()

	e := model.BrokerExecution{
		ParentOrderID: o.ID, BrokerID: 1, BrokerName: "fyers",
		BrokerOrderID: "25080800223154", Side: model.ExecutionEntry,
		Action: "BUY", Status: "PENDING", ProductType: "MARGIN",
	}
	if err := s.InsertExecution(ctx, &e); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	dup := e
	dup.ID = 0
	if err := s.InsertExecution(ctx, &dup); err == nil {
		t.Fatalf("second live ENTRY row for the same (order, broker) must fail")
	}

	// EXIT rows append freely
	x1 := model.BrokerExecution{
		ParentOrderID: o.ID, BrokerID: 1, BrokerName: "fyers",
		Side: model.ExecutionExit, Action: "SELL", Status: "PENDING",
	}
	x2 := x1
	if err := s.InsertExecution(ctx, &x1); err != nil {
		t.Fatalf("insert exit: %v", err)
	}
	if err := s.InsertExecution(ctx, &x2); err != nil {
		t.Fatalf("exit rows are append-only, second insert failed: %v", err)
	}
}

func TestExecutionUpdateInPlace(t *testing.T) {
	s := newTestStore(t)
	o := seedOrder(t, s)
	ctx := context.Background()

	e := model.BrokerExecution{
		ParentOrderID: o.ID, BrokerID: 1, BrokerName: "fyers",
		BrokerOrderID: "F1", Side: model.ExecutionEntry,
		Action: "BUY", Status: "PENDING",
	}
	if err := s.InsertExecution(ctx, &e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e.Status = "FILLED"
	e.ExecutedQty = 75
	e.ExecPrice = 187.45
	e.ExecTime = time.Now()
	if err := s.UpdateExecution(ctx, &e); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, err := s.ExecutionsForOrder(ctx, o.ID, model.ExecutionEntry)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Status != "FILLED" || rows[0].ExecutedQty != 75 {
		t.Errorf("update not persisted: %+v", rows[0])
	}
}

func TestBalanceUpsertLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := model.BalanceSummary{BrokerID: 1, BrokerName: "fyers", TotalBalance: 100000, Available: 60000, Utilized: 40000, FetchedAt: time.Now()}
	if err := s.UpsertBalanceSummary(ctx, b); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	b.Available = 55000
	b.Utilized = 45000
	if err := s.UpsertBalanceSummary(ctx, b); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := s.BalanceSummaries(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("rows = %d, want 1 per broker", len(all))
	}
	if all[0].Available != 55000 {
		t.Errorf("available = %v, want latest 55000", all[0].Available)
	}
}

func TestUpsertBrokerIsStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertBroker(ctx, "fyers")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := s.UpsertBroker(ctx, "fyers")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("broker id changed across upserts: %d vs %d", id1, id2)
	}
}
