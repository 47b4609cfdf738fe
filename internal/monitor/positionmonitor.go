package monitor

import (
	"context"
	"log"
	"math"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/execution"
	"trading-execv1/internal/metrics"
	"trading-execv1/internal/model"
	"trading-execv1/internal/normalize"
)

// PositionMonitor cross-checks open orders against each broker's net
// position book. A local order matches a position on (tradingsymbol,
// quantity ∈ {buy_quantity, overnight_quantity}, product_type,
// entry_price). An order unmatched after a full pass is logged and
// flagged, never auto-corrected: the position book is aggregate data and
// a destructive correction from it would be guesswork.
type PositionMonitor struct {
	store    Store
	brokers  *broker.Manager
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewPositionMonitor wires the divergence check. m may be nil.
func NewPositionMonitor(store Store, brokers *broker.Manager, interval time.Duration, m *metrics.Metrics) *PositionMonitor {
	return &PositionMonitor{store: store, brokers: brokers, interval: interval, metrics: m}
}

// Run polls until ctx is cancelled.
func (pm *PositionMonitor) Run(ctx context.Context) {
	log.Printf("[positionmonitor] started, interval=%s", pm.interval)
	runLoop(ctx, pm.interval, pm.Tick)
}

// Tick runs one cross-check pass.
func (pm *PositionMonitor) Tick(ctx context.Context) {
	start := time.Now()
	orders, err := pm.store.ListOpenOrders(ctx)
	if err != nil {
		log.Printf("[positionmonitor] list open orders: %v", err)
		return
	}
	holding := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == model.StatusOpen || o.Status == model.StatusPartiallyFilled {
			holding = append(holding, o)
		}
	}
	if len(holding) == 0 {
		return
	}

	positions, errs := pm.brokers.GetAllBrokerPositions(ctx)
	for name, err := range errs {
		log.Printf("[positionmonitor] positions fetch failed for %s: %v", name, err)
	}

	for _, order := range holding {
		entries, err := pm.store.ExecutionsForOrder(ctx, order.ID, model.ExecutionEntry)
		if err != nil {
			log.Printf("[positionmonitor] order %d: %v", order.ID, err)
			continue
		}
		for _, entry := range entries {
			if entry.Status == normalize.StatusRejected || entry.Status == normalize.StatusCancelled {
				continue
			}
			book, ok := positions[entry.BrokerName]
			if !ok {
				continue // broker unreachable this tick, not a divergence
			}
			pos, ok := matchPosition(order, entry, book, entry.BrokerName)
			if !ok {
				if pm.metrics != nil {
					pm.metrics.ReconMismatches.Inc()
				}
				log.Printf("[positionmonitor] divergence: order %d (%s qty=%d product=%s) has no matching %s position",
					order.ID, order.Symbol, entry.ExecutedQty, entry.ProductType, entry.BrokerName)
				continue
			}
			// cross-check the broker's aggregate day PnL against our own
			// mark by allocating it to this order's executed share
			if share, ok := brokerPnLShare(entry, pos); ok {
				local := realizedPnL(order.Side, order.EntryPrice, order.CurrentPrice, entry.ExecutedQty)
				log.Printf("[positionmonitor] order %d %s pnl share=%.2f (broker day pnl %.2f), local mark=%.2f",
					order.ID, entry.BrokerName, share, pos.DayPnL, local)
			}
		}
	}
	if pm.metrics != nil {
		pm.metrics.PollDuration.WithLabelValues("position_monitor").Observe(time.Since(start).Seconds())
	}
}

// matchPosition looks for a broker position row matching the order leg.
func matchPosition(order model.Order, entry model.BrokerExecution, book []model.BrokerPosition, brokerName string) (model.BrokerPosition, bool) {
	qty := entry.ExecutedQty
	if qty == 0 {
		qty = order.Qty
	}
	for _, pos := range book {
		canon, err := normalize.ToCanonicalSymbol(pos.TradingSymbol, brokerName)
		if err != nil || canon != order.Symbol {
			continue
		}
		if pos.Product != entry.ProductType {
			continue
		}
		if pos.BuyQty != qty && pos.OvernightQty != qty {
			continue
		}
		if order.EntryPrice > 0 && pos.BuyPrice > 0 &&
			math.Abs(pos.BuyPrice-order.EntryPrice) > 0.009 {
			continue
		}
		return pos, true
	}
	return model.BrokerPosition{}, false
}

// brokerPnLShare allocates the position's broker-reported day PnL to one
// order leg by executed-quantity share. The position's buy quantity is the
// denominator; carried-over positions report it under overnight quantity.
func brokerPnLShare(entry model.BrokerExecution, pos model.BrokerPosition) (float64, bool) {
	base := pos.BuyQty
	if base == 0 {
		base = pos.OvernightQty
	}
	if base == 0 || entry.ExecutedQty == 0 {
		return 0, false
	}
	return execution.ProportionalPnL(entry.ExecutedQty, base, pos.DayPnL), true
}
