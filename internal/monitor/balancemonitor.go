package monitor

import (
	"context"
	"log"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/metrics"
)

// BalanceMonitor snapshots every broker's funds once per tick, upserting
// one BalanceSummary row per broker, latest wins.
type BalanceMonitor struct {
	store    Store
	brokers  *broker.Manager
	interval time.Duration
	metrics  *metrics.Metrics
	events   EventSink
}

// NewBalanceMonitor wires the balance snapshot loop. m may be nil.
func NewBalanceMonitor(store Store, brokers *broker.Manager, interval time.Duration, m *metrics.Metrics) *BalanceMonitor {
	return &BalanceMonitor{store: store, brokers: brokers, interval: interval, metrics: m}
}

// SetEventSink attaches the optional live-event mirror.
func (bm *BalanceMonitor) SetEventSink(s EventSink) { bm.events = s }

// Run polls until ctx is cancelled.
func (bm *BalanceMonitor) Run(ctx context.Context) {
	log.Printf("[balancemonitor] started, interval=%s", bm.interval)
	runLoop(ctx, bm.interval, bm.Tick)
}

// Tick fetches and persists one snapshot per authenticated broker.
func (bm *BalanceMonitor) Tick(ctx context.Context) {
	start := time.Now()
	for name, b := range bm.brokers.ActiveBrokers() {
		summary, err := b.GetBalanceSummary(ctx)
		if err != nil {
			log.Printf("[balancemonitor] balance fetch failed for %s: %v", name, err)
			if bm.metrics != nil {
				bm.metrics.BrokerErrors.WithLabelValues(name, "balance").Inc()
			}
			continue
		}
		summary.BrokerID = bm.brokers.BrokerID(name)
		summary.BrokerName = name
		summary.FetchedAt = time.Now()
		if err := bm.store.UpsertBalanceSummary(ctx, summary); err != nil {
			log.Printf("[balancemonitor] upsert for %s: %v", name, err)
		}
		if bm.events != nil {
			bm.events.PublishBalance(summary)
		}
	}
	if bm.metrics != nil {
		bm.metrics.PollDuration.WithLabelValues("balance_monitor").Observe(time.Since(start).Seconds())
	}
}
