package monitor

import (
	"context"
	"log"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/metrics"
	"trading-execv1/internal/model"
	"trading-execv1/internal/normalize"
	"trading-execv1/internal/ordercache"
)

// OrderMonitor reconciles every non-terminal order against the cached
// live broker state: entry acknowledgements, fill deltas, and exit
// confirmations. It shares its poll interval with the order cache so a
// refreshed snapshot is never more than one tick stale.
type OrderMonitor struct {
	store    Store
	cache    *ordercache.Cache
	brokers  *broker.Manager
	interval time.Duration
	metrics  *metrics.Metrics
	events   EventSink
}

// NewOrderMonitor wires the reconciliation loop. m may be nil.
func NewOrderMonitor(store Store, cache *ordercache.Cache, brokers *broker.Manager, interval time.Duration, m *metrics.Metrics) *OrderMonitor {
	return &OrderMonitor{store: store, cache: cache, brokers: brokers, interval: interval, metrics: m}
}

// SetEventSink attaches the optional live-event mirror.
func (om *OrderMonitor) SetEventSink(s EventSink) { om.events = s }

// Run polls until ctx is cancelled.
func (om *OrderMonitor) Run(ctx context.Context) {
	log.Printf("[ordermonitor] started, interval=%s", om.interval)
	runLoop(ctx, om.interval, om.Tick)
}

// Tick runs one reconciliation pass over all open orders.
func (om *OrderMonitor) Tick(ctx context.Context) {
	start := time.Now()
	orders, err := om.store.ListOpenOrders(ctx)
	if err != nil {
		log.Printf("[ordermonitor] list open orders: %v", err)
		return
	}
	for _, order := range orders {
		if order.Status.IsTerminal() {
			continue
		}
		if err := om.reconcile(ctx, order); err != nil {
			log.Printf("[ordermonitor] order %d: %v", order.ID, err)
		}
	}
	if om.metrics != nil {
		om.metrics.PollDuration.WithLabelValues("order_monitor").Observe(time.Since(start).Seconds())
		om.metrics.OpenOrders.Set(float64(len(orders)))
	}
}

func (om *OrderMonitor) reconcile(ctx context.Context, order model.Order) error {
	if order.Status.IsExitPending() {
		return om.reconcileExit(ctx, order)
	}
	return om.reconcileEntry(ctx, order)
}

// reconcileEntry applies entry acks and fill deltas: AWAITING_ENTRY moves
// to OPEN on the first live acknowledgement or to REJECTED when every
// broker refused; fills toggle OPEN ↔ PARTIALLY_FILLED.
func (om *OrderMonitor) reconcileEntry(ctx context.Context, order model.Order) error {
	entries, err := om.store.ExecutionsForOrder(ctx, order.ID, model.ExecutionEntry)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var (
		filledQty int64
		notional  float64
		anyLive   bool
		allDead   = true
		liveLegs  = 0
		fullFills = 0
		earliest  time.Time
	)
	for i := range entries {
		e := &entries[i]
		om.refreshExecution(ctx, e)
		switch e.Status {
		case normalize.StatusRejected, normalize.StatusCancelled:
			continue
		}
		allDead = false
		liveLegs++
		switch e.Status {
		case normalize.StatusOpen, normalize.StatusPending, normalize.StatusPartial, normalize.StatusFilled:
			anyLive = true
		}
		if e.ExecutedQty > 0 {
			filledQty += e.ExecutedQty
			notional += float64(e.ExecutedQty) * e.ExecPrice
			if e.Status == normalize.StatusFilled {
				fullFills++
			}
			if earliest.IsZero() || e.ExecTime.Before(earliest) {
				earliest = e.ExecTime
			}
		}
	}

	switch {
	case order.Status == model.StatusAwaitingEntry && allDead:
		log.Printf("[ordermonitor] order %d rejected by every broker", order.ID)
		return om.store.TransitionOrder(ctx, order.ID, model.StatusRejected)
	case order.Status == model.StatusAwaitingEntry && anyLive:
		if err := om.store.TransitionOrder(ctx, order.ID, model.StatusOpen); err != nil {
			return err
		}
		order.Status = model.StatusOpen
		if filledQty > 0 {
			vwap := notional / float64(filledQty)
			if err := om.store.SetOrderEntry(ctx, order.ID, vwap, earliest); err != nil {
				return err
			}
		}
	}

	// fill deltas between the open states; rejected and cancelled legs never
	// count toward the expected total, they will not fill
	totalQty := order.Qty * int64(liveLegs)
	if filledQty > 0 && filledQty < totalQty && order.Status == model.StatusOpen && fullFills < liveLegs {
		if err := om.store.TransitionOrder(ctx, order.ID, model.StatusPartiallyFilled); err != nil {
			return err
		}
	} else if order.Status == model.StatusPartiallyFilled && liveLegs > 0 && fullFills == liveLegs {
		if err := om.store.TransitionOrder(ctx, order.ID, model.StatusOpen); err != nil {
			return err
		}
	}

	// keep the mark price current for risk evaluation
	if ltp, err := om.brokers.GetLTP(ctx, order.Symbol); err == nil && ltp > 0 {
		if err := om.store.UpdateOrderPrice(ctx, order.ID, ltp, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// reconcileExit resolves an EXIT_*_PENDING order: once every exit leg is
// filled the order closes with a volume-weighted exit price and realized
// PnL; rejected legs are logged and left pending for the next pass.
func (om *OrderMonitor) reconcileExit(ctx context.Context, order model.Order) error {
	exits, err := om.store.ExecutionsForOrder(ctx, order.ID, model.ExecutionExit)
	if err != nil {
		return err
	}
	if len(exits) == 0 {
		return nil
	}

	var (
		filledQty int64
		notional  float64
		pending   int
		rejected  int
	)
	for i := range exits {
		e := &exits[i]
		om.refreshExecution(ctx, e)
		switch e.Status {
		case normalize.StatusFilled:
			filledQty += e.ExecutedQty
			notional += float64(e.ExecutedQty) * e.ExecPrice
		case normalize.StatusRejected, normalize.StatusCancelled:
			rejected++
		default:
			pending++
		}
	}

	if pending > 0 {
		return nil // still confirming
	}
	if rejected > 0 {
		if om.metrics != nil {
			om.metrics.ReconMismatches.Inc()
		}
		log.Printf("[ordermonitor] order %d: %d exit leg(s) rejected, awaiting retry", order.ID, rejected)
		if order.Status != model.StatusExitAtomicFailedPending {
			return om.store.TransitionOrder(ctx, order.ID, model.StatusExitAtomicFailedPending)
		}
		return nil
	}

	exitPrice := order.ExitPrice
	if filledQty > 0 {
		exitPrice = notional / float64(filledQty)
	}
	pnl := realizedPnL(order.Side, order.EntryPrice, exitPrice, filledQty)
	log.Printf("[ordermonitor] order %d closed: exit=%.2f qty=%d pnl=%.2f", order.ID, exitPrice, filledQty, pnl)
	if err := om.store.CloseOrder(ctx, order.ID, exitPrice, pnl); err != nil {
		return err
	}
	if om.events != nil {
		order.Status = model.StatusClosed
		order.ExitPrice = exitPrice
		order.PnL = pnl
		om.events.PublishOrderEvent("closed", order)
	}
	return nil
}

// refreshExecution updates one execution row in place from the cached
// live listing. Unknown ids (not yet in the book) are left untouched.
func (om *OrderMonitor) refreshExecution(ctx context.Context, e *model.BrokerExecution) {
	if e.BrokerOrderID == "" {
		return
	}
	live, ok := om.cache.Lookup(ctx, e.BrokerName, e.BrokerOrderID, e.ProductType)
	if !ok {
		return
	}
	changed := false
	if live.Status != "" && live.Status != e.Status {
		e.Status = live.Status
		changed = true
	}
	if live.FilledQty != e.ExecutedQty {
		e.ExecutedQty = live.FilledQty
		changed = true
	}
	if live.AvgPrice > 0 && live.AvgPrice != e.ExecPrice {
		e.ExecPrice = live.AvgPrice
		changed = true
	}
	if !live.UpdateTime.IsZero() {
		e.ExecTime = live.UpdateTime
	}
	if changed {
		if err := om.store.UpdateExecution(ctx, e); err != nil {
			log.Printf("[ordermonitor] update execution %d: %v", e.ID, err)
		}
	}
}

// realizedPnL computes directional PnL per unit times quantity.
func realizedPnL(side string, entryPrice, exitPrice float64, qty int64) float64 {
	diff := exitPrice - entryPrice
	if side == normalize.ActionSell {
		diff = -diff
	}
	return diff * float64(qty)
}
