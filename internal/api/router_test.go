package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/execution"
	"trading-execv1/internal/model"
	"trading-execv1/internal/ordercache"
	"trading-execv1/internal/risk"
	"trading-execv1/internal/store/sqlite"
)

func newTestServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	brokers := broker.NewManager(time.Second)
	cache := ordercache.New(brokers)
	orders := execution.NewManager(store, brokers, cache, nil, nil)
	riskMgr := risk.NewManager(brokers, orders, nil, nil, time.Second)
	return NewServer(store, orders, riskMgr), store
}

func TestListOrdersEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []model.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if len(got) != 0 {
		t.Errorf("orders = %d, want 0", len(got))
	}
}

func TestPlaceEntryRejectsBadSignal(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"signal":{"symbol":"","lot_qty":0}}`
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlaceEntryWithNoBrokersReportsFailure(t *testing.T) {
	srv, store := newTestServer(t)
	body := `{"signal":{"symbol":"NIFTY16SEP2524950CE","side":"BUY","signal_type":"ENTRY","lot_qty":75,"entry_price":187.45},"strategy_id":1,"strategy_symbol_id":10}`
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 on total placement failure", rec.Code)
	}
	var resp struct {
		Success bool        `json:"success"`
		Order   model.Order `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Error("total failure must not report success")
	}

	// the aggregate is still persisted as FAILED for audit
	got, err := store.GetOrder(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestExitUnknownOrderReportsFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/999/exit?reason=MANUAL", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Success {
		t.Error("unknown order exit must not report success")
	}
}

func TestExitBadOrderID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/abc/exit", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRiskLimitsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/api/v1/risk-limits",
		strings.NewReader(`{"fyers":{"max_loss":5000,"max_profit":10000}}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, put)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk-limits", nil))
	var got map[string]risk.Limits
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["fyers"].MaxLoss != 5000 || got["fyers"].MaxProfit != 10000 {
		t.Errorf("limits = %+v", got["fyers"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exit-all", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
