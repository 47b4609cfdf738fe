// Package risk evaluates per-broker aggregate PnL against configured
// loss/profit limits and force-exits everything on a breach. The check
// only runs while the market is open.
package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/execution"
	"trading-execv1/internal/markethours"
	"trading-execv1/internal/metrics"
	"trading-execv1/internal/notification"
)

// Limits caps one broker's day. Zero means no limit on that side.
// MaxLoss is a positive magnitude: a day PnL of −MaxLoss breaches.
type Limits struct {
	MaxLoss   float64 `json:"max_loss"`
	MaxProfit float64 `json:"max_profit"`
}

// Exiter is what a breach triggers; satisfied by the order manager.
type Exiter interface {
	ExitAll(ctx context.Context, reason string) error
}

// Manager runs the market-hours-gated risk check. A breached broker is
// suspended from new entries until manually resumed; the breach itself
// flattens every open order.
type Manager struct {
	brokers  *broker.Manager
	exiter   Exiter
	notifier notification.Notifier
	metrics  *metrics.Metrics
	interval time.Duration

	mu      sync.RWMutex
	limits  map[string]Limits // broker name → limits
	tripped map[string]bool

	now func() time.Time
}

// NewManager wires the risk loop. notifier and m may be nil.
func NewManager(brokers *broker.Manager, exiter Exiter, notifier notification.Notifier, m *metrics.Metrics, interval time.Duration) *Manager {
	return &Manager{
		brokers:  brokers,
		exiter:   exiter,
		notifier: notifier,
		metrics:  m,
		interval: interval,
		limits:   make(map[string]Limits),
		tripped:  make(map[string]bool),
		now:      time.Now,
	}
}

// SetLimits replaces one broker's limits.
func (m *Manager) SetLimits(brokerName string, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[brokerName] = l
	log.Printf("[risk] limits for %s: max_loss=%.2f max_profit=%.2f", brokerName, l.MaxLoss, l.MaxProfit)
}

// AllLimits returns a copy of the configured limits.
func (m *Manager) AllLimits() map[string]Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Limits, len(m.limits))
	for k, v := range m.limits {
		out[k] = v
	}
	return out
}

// Reset clears a broker's trip state and lifts its entry suspension.
func (m *Manager) Reset(brokerName string) {
	m.mu.Lock()
	delete(m.tripped, brokerName)
	m.mu.Unlock()
	m.brokers.Resume(brokerName)
}

// Run checks on interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	log.Printf("[risk] started, interval=%s", m.interval)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckBrokerRiskLimits(ctx)
		}
	}
}

// CheckBrokerRiskLimits runs one evaluation pass. Outside market hours
// it is a no-op; the close boundary itself counts as closed.
func (m *Manager) CheckBrokerRiskLimits(ctx context.Context) {
	if !markethours.IsMarketOpen(m.now()) {
		return
	}
	start := time.Now()
	positions, errs := m.brokers.GetAllBrokerPositions(ctx)
	for name, err := range errs {
		log.Printf("[risk] positions fetch failed for %s: %v", name, err)
	}
	for name, book := range positions {
		var dayPnL float64
		for _, p := range book {
			dayPnL += p.DayPnL
		}
		m.evaluate(ctx, name, dayPnL)
	}
	if m.metrics != nil {
		m.metrics.PollDuration.WithLabelValues("risk").Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) evaluate(ctx context.Context, brokerName string, dayPnL float64) {
	m.mu.RLock()
	l, hasLimits := m.limits[brokerName]
	already := m.tripped[brokerName]
	m.mu.RUnlock()
	if !hasLimits || already {
		return
	}

	var breach string
	switch {
	case l.MaxLoss > 0 && dayPnL <= -l.MaxLoss:
		breach = fmt.Sprintf("max loss breached: pnl=%.2f limit=-%.2f", dayPnL, l.MaxLoss)
	case l.MaxProfit > 0 && dayPnL >= l.MaxProfit:
		breach = fmt.Sprintf("max profit reached: pnl=%.2f limit=%.2f", dayPnL, l.MaxProfit)
	default:
		return
	}

	m.mu.Lock()
	m.tripped[brokerName] = true
	m.mu.Unlock()

	log.Printf("[risk] %s: %s, exiting all positions", brokerName, breach)
	if m.metrics != nil {
		m.metrics.RiskTrips.WithLabelValues(brokerName).Inc()
	}
	m.brokers.Suspend(brokerName, breach)
	if err := m.exiter.ExitAll(ctx, execution.ExitReasonRisk); err != nil {
		log.Printf("[risk] exit-all after %s breach: %v", brokerName, err)
	}
	if m.notifier != nil {
		_ = m.notifier.Send(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "Risk limit tripped",
			Message: fmt.Sprintf("%s: %s", brokerName, breach),
		})
	}
}
