// Package metrics exposes Prometheus metrics and a health endpoint for
// the execution engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	OrdersPlaced   prometheus.Counter
	ExitsTotal     *prometheus.CounterVec // labels: reason
	BrokerErrors   *prometheus.CounterVec // labels: broker, op
	ActionDefaults prometheus.Counter     // unresolvable sides defaulted to BUY

	ReconMismatches prometheus.Counter
	RiskTrips       *prometheus.CounterVec // labels: broker

	PollDuration *prometheus.HistogramVec // labels: loop
	OpenOrders   prometheus.Gauge
	MarketState  prometheus.Gauge // 0=closed, 1=open

	StreamReconnects prometheus.Counter

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execengine_orders_placed_total",
			Help: "Orders placed across all brokers",
		}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execengine_exits_total",
			Help: "Order exits by reason",
		}, []string{"reason"}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execengine_broker_errors_total",
			Help: "Broker call failures by broker and operation",
		}, []string{"broker", "op"}),
		ActionDefaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execengine_action_defaults_total",
			Help: "Unresolvable action inputs defaulted to BUY",
		}),
		ReconMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execengine_reconciliation_mismatches_total",
			Help: "DB vs live-broker divergences detected by the monitors",
		}),
		RiskTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execengine_risk_trips_total",
			Help: "Risk limit breaches by broker",
		}, []string{"broker"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execengine_poll_duration_seconds",
			Help:    "Duration of one monitor/risk poll tick",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execengine_open_orders",
			Help: "Non-terminal orders currently tracked",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execengine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execengine_order_stream_reconnects_total",
			Help: "Order-update websocket reconnection attempts",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.OrdersPlaced,
		m.ExitsTotal,
		m.BrokerErrors,
		m.ActionDefaults,
		m.ReconMismatches,
		m.RiskTrips,
		m.PollDuration,
		m.OpenOrders,
		m.MarketState,
		m.StreamReconnects,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)
	return m
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	BrokersAuthed   int       `json:"brokers_authenticated"`
	LastPollAt      time.Time `json:"last_poll_at"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBrokersAuthed(n int) {
	h.mu.Lock()
	h.BrokersAuthed = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPollAt(t time.Time) {
	h.mu.Lock()
	h.LastPollAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.SQLiteOK || h.BrokersAuthed == 0 {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		BrokersAuthed   int     `json:"brokers_authenticated"`
		LastPollAt      string  `json:"last_poll_at"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BrokersAuthed:   h.BrokersAuthed,
		LastPollAt:      h.LastPollAt.Format(time.RFC3339),
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
