// Package api is the thin operational HTTP surface over core-persisted
// state: order listing, balance summaries, manual and emergency exits,
// and risk-limit configuration. No reconciliation logic lives here.
package api

import (
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading-execv1/internal/execution"
	"trading-execv1/internal/logger"
	"trading-execv1/internal/model"
	"trading-execv1/internal/risk"
	"trading-execv1/internal/store/sqlite"
)

// Server wires the HTTP handlers over the core components.
type Server struct {
	store  *sqlite.Store
	orders *execution.Manager
	risk   *risk.Manager
}

// NewServer creates the API server.
func NewServer(store *sqlite.Store, orders *execution.Manager, riskMgr *risk.Manager) *Server {
	return &Server{store: store, orders: orders, risk: riskMgr}
}

// Router sets up the HTTP routes with request logging.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/orders", s.handleOrders)
	mux.HandleFunc("/api/v1/orders/", s.handleOrderExit) // POST /orders/{id}/exit
	mux.HandleFunc("/api/v1/exit-all", s.handleExitAll)
	mux.HandleFunc("/api/v1/balances", s.handleBalances)
	mux.HandleFunc("/api/v1/risk-limits", s.handleRiskLimits)
	return withRequestLog(mux)
}

// withRequestLog tags every request with a trace ID and logs it on
// completion. Mutating endpoints propagate the trace ID downstream via
// the request context.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := logger.GenerateTraceID(r.Method, start)
		ctx := logger.WithTraceID(r.Context(), tid)
		next.ServeHTTP(w, r.WithContext(ctx))
		slog.Info("api request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("trace_id", tid),
			slog.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePlaceEntry(w, r)
		return
	case http.MethodGet:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var (
		orders any
		err    error
	)
	if r.URL.Query().Get("open") == "true" {
		orders, err = s.store.ListOpenOrders(r.Context())
	} else {
		orders, err = s.store.ListOrders(r.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handlePlaceEntry is the signal intake: a strategy process POSTs a
// TradeSignal and the order manager fans the entry out. Partial broker
// failure still returns the order; total failure is reported explicitly.
func (s *Server) handlePlaceEntry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Signal           model.TradeSignal `json:"signal"`
		StrategyID       int64             `json:"strategy_id"`
		StrategySymbolID int64             `json:"strategy_symbol_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Signal.Symbol == "" || body.Signal.LotQty <= 0 {
		http.Error(w, "signal needs symbol and positive lot_qty", http.StatusBadRequest)
		return
	}
	if body.Signal.SignalTime.IsZero() {
		body.Signal.SignalTime = time.Now()
	}
	order, err := s.orders.PlaceEntry(r.Context(), body.Signal, body.StrategyID, body.StrategySymbolID)
	if err != nil {
		log.Printf("[api] place entry for %s: %v", body.Signal.Symbol, err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": false,
			"message": err.Error(),
			"order":   order,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "order": order})
}

// handleOrderExit serves POST /api/v1/orders/{id}/exit.
func (s *Server) handleOrderExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	idStr, action, ok := strings.Cut(rest, "/")
	if !ok || action != "exit" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad order id", http.StatusBadRequest)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = execution.ExitReasonManual
	}
	if err := s.orders.ExitOrder(r.Context(), id, reason, 0, true); err != nil {
		log.Printf("[api] exit order %d: %v", id, err)
		// partial failure is reported, never coerced to overall success
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order_id": id})
}

func (s *Server) handleExitAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = execution.ExitReasonManual
	}
	if err := s.orders.ExitAll(r.Context(), reason); err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	balances, err := s.store.BalanceSummaries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleRiskLimits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.risk.AllLimits())
	case http.MethodPut:
		var body map[string]risk.Limits
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body: "+err.Error(), http.StatusBadRequest)
			return
		}
		for name, l := range body {
			s.risk.SetLimits(name, l)
		}
		writeJSON(w, http.StatusOK, s.risk.AllLimits())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}
