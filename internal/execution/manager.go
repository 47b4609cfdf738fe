// Package execution orchestrates entry placement and exit across brokers:
// per-broker order defaults, bracket offset derivation, idempotent exits,
// and proportional PnL allocation.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/metrics"
	"trading-execv1/internal/model"
	"trading-execv1/internal/normalize"
	"trading-execv1/internal/notification"
	"trading-execv1/internal/ordercache"
)

// Exit reasons. The reason selects the EXIT_*_PENDING sub-state and is
// recorded on the order for audit.
const (
	ExitReasonTarget   = "TARGET"
	ExitReasonStoploss = "STOPLOSS"
	ExitReasonReversal = "REVERSAL"
	ExitReasonEOD      = "EOD_SQUAREOFF"
	ExitReasonExpiry   = "EXPIRY"
	ExitReasonManual   = "MANUAL"
	ExitReasonRisk     = "RISK_LIMIT"
)

// Store is the persistence surface the order manager consumes. The sqlite
// store implements it; tests use an in-memory fake.
type Store interface {
	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	ListOpenOrders(ctx context.Context) ([]model.Order, error)
	TransitionOrder(ctx context.Context, id int64, to model.Status) error
	SetOrderExit(ctx context.Context, id int64, exitPrice float64, reason string, exitTime time.Time) error
	InsertExecution(ctx context.Context, e *model.BrokerExecution) error
	ExecutionsForOrder(ctx context.Context, parentID int64, side model.ExecutionSide) ([]model.BrokerExecution, error)
}

// EventSink mirrors order lifecycle changes to an external live view
// (the Redis publisher). Delivery is best effort; implementations must
// never block or fail the order path.
type EventSink interface {
	PublishOrderEvent(event string, o model.Order)
}

// Manager owns the order lifecycle: it places entries across every
// entry-eligible broker, persists the aggregate and its per-broker
// execution rows, and runs the idempotent exit path.
type Manager struct {
	store    Store
	brokers  *broker.Manager
	cache    *ordercache.Cache
	notifier notification.Notifier
	metrics  *metrics.Metrics
	events   EventSink

	mu      sync.Mutex
	exiting map[int64]bool // parent order id → exit in flight
}

// NewManager wires the order manager. notifier and m may be nil.
func NewManager(store Store, brokers *broker.Manager, cache *ordercache.Cache, notifier notification.Notifier, m *metrics.Metrics) *Manager {
	return &Manager{
		store:    store,
		brokers:  brokers,
		cache:    cache,
		notifier: notifier,
		metrics:  m,
		exiting:  make(map[int64]bool),
	}
}

// PlaceEntry converts a trade signal into one Order aggregate plus one
// ENTRY execution row per broker. The order is persisted AWAITING_ENTRY
// before any broker call so a crash mid-placement leaves a traceable row.
func (m *Manager) PlaceEntry(ctx context.Context, sig model.TradeSignal, strategyID, strategySymbolID int64) (model.Order, error) {
	action, ok := normalize.ActionOK(sig.Side)
	if !ok {
		log.Printf("[ordermanager] signal for %s has unresolvable side %q, defaulting to BUY", sig.Symbol, sig.Side)
		if m.metrics != nil {
			m.metrics.ActionDefaults.Inc()
		}
	}

	order := model.Order{
		StrategyID:       strategyID,
		StrategySymbolID: strategySymbolID,
		Symbol:           sig.Symbol,
		Side:             action,
		Qty:              sig.LotQty,
		EntryPrice:       sig.EntryPrice,
		Status:           model.StatusAwaitingEntry,
		SignalTime:       sig.SignalTime,
	}
	if err := m.store.InsertOrder(ctx, &order); err != nil {
		return model.Order{}, fmt.Errorf("persist order: %w", err)
	}

	results := m.brokers.PlaceOrder(ctx, func(name string) (model.OrderRequest, error) {
		return m.buildEntryRequest(name, sig, action)
	})
	if len(results) == 0 {
		_ = m.store.TransitionOrder(ctx, order.ID, model.StatusFailed)
		return order, fmt.Errorf("order %d: no entry-eligible brokers", order.ID)
	}

	placed := 0
	for name, res := range results {
		exec := model.BrokerExecution{
			ParentOrderID: order.ID,
			BrokerID:      m.brokers.BrokerID(name),
			BrokerName:    name,
			Side:          model.ExecutionEntry,
			Action:        action,
			ExecTime:      time.Now(),
		}
		d := DefaultsFor(name, sig.SignalType)
		exec.ProductType = d.ProductType
		exec.OrderType = string(d.OrderType)
		if res.Err != nil {
			log.Printf("[ordermanager] entry via %s failed for order %d: %v", name, order.ID, res.Err)
			if m.metrics != nil {
				m.metrics.BrokerErrors.WithLabelValues(name, "place_order").Inc()
			}
			exec.Status = normalize.StatusRejected
			exec.RawResponse = jsonError(res.Err)
		} else {
			placed++
			exec.BrokerOrderID = res.Ack.OrderID
			exec.Status = res.Ack.Status
			exec.RawResponse = res.Ack.Raw
		}
		if err := m.store.InsertExecution(ctx, &exec); err != nil {
			log.Printf("[ordermanager] persist entry row for %s failed: %v", name, err)
		}
	}

	if placed == 0 {
		if err := m.store.TransitionOrder(ctx, order.ID, model.StatusFailed); err != nil {
			log.Printf("[ordermanager] order %d: mark failed: %v", order.ID, err)
		}
		order.Status = model.StatusFailed
		return order, fmt.Errorf("order %d: every broker rejected the entry", order.ID)
	}
	if m.metrics != nil {
		m.metrics.OrdersPlaced.Inc()
	}
	m.publish("placed", order)
	log.Printf("[ordermanager] order %d placed on %d/%d brokers (%s %s qty=%d)",
		order.ID, placed, len(results), action, sig.Symbol, sig.LotQty)
	return order, nil
}

// SetEventSink attaches the optional live-event mirror.
func (m *Manager) SetEventSink(s EventSink) { m.events = s }

func (m *Manager) publish(event string, o model.Order) {
	if m.events != nil {
		m.events.PublishOrderEvent(event, o)
	}
}

func (m *Manager) buildEntryRequest(brokerName string, sig model.TradeSignal, action string) (model.OrderRequest, error) {
	d := DefaultsFor(brokerName, sig.SignalType)
	req := model.OrderRequest{
		Symbol:      sig.Symbol,
		Quantity:    sig.LotQty,
		Side:        model.Side(action),
		OrderType:   d.OrderType,
		ProductType: d.ProductType,
		Validity:    d.Validity,
		Exchange:    d.Exchange,
		Variety:     d.Variety,
	}
	switch d.OrderType {
	case model.OrderTypeLimit:
		req.Price = sig.Price
	case model.OrderTypeSL:
		req.Price = sig.Price
		req.TriggerPrice = sig.StopLoss
	case model.OrderTypeSLM:
		req.TriggerPrice = sig.StopLoss
	}
	if IsBracketProduct(d.ProductType) && sig.Price > 0 {
		sl, tp := BracketLevels(model.Side(action), sig.Price, sig.StopLoss, sig.TargetPrice)
		req.Extra = map[string]string{
			"stopLoss":   fmt.Sprintf("%.2f", sl),
			"takeProfit": fmt.Sprintf("%.2f", tp),
		}
	}
	return req, nil
}

// ExitOrder flattens one order across all its brokers. Concurrent calls
// for the same order are collapsed by a per-order guard so exactly one
// EXIT execution row is written per broker. EXIT rows are persisted before
// the status transition commits: a crash mid-exit leaves a resumable
// EXIT_*_PENDING order, never a falsely closed one.
func (m *Manager) ExitOrder(ctx context.Context, orderID int64, reason string, ltp float64, checkLiveStatus bool) error {
	m.mu.Lock()
	if m.exiting[orderID] {
		m.mu.Unlock()
		log.Printf("[ordermanager] exit for order %d already in flight, skipping", orderID)
		return nil
	}
	m.exiting[orderID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.exiting, orderID)
		m.mu.Unlock()
	}()

	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("exit order %d: %w", orderID, err)
	}
	if order.Status.IsTerminal() || order.Status.IsExitPending() {
		log.Printf("[ordermanager] order %d already %s, exit is a no-op", orderID, order.Status)
		return nil
	}

	entries, err := m.store.ExecutionsForOrder(ctx, orderID, model.ExecutionEntry)
	if err != nil {
		return fmt.Errorf("exit order %d: load entries: %w", orderID, err)
	}
	if len(entries) == 0 {
		// nothing was ever placed; cancel the aggregate outright
		return m.store.TransitionOrder(ctx, orderID, model.StatusCancelled)
	}

	if ltp == 0 {
		if fetched, err := m.brokers.GetLTP(ctx, order.Symbol); err != nil {
			log.Printf("[ordermanager] order %d: ltp fetch failed, exit price will be zero: %v", orderID, err)
		} else {
			ltp = fetched
		}
	}

	params := make(map[string]broker.ExitParams)
	sentinel := false
	cancelFailed := 0
	skipped := make(map[string]string)
	for _, entry := range entries {
		if normalize.IsTerminalStatus(entry.Status) && entry.Status != normalize.StatusFilled {
			skipped[entry.BrokerName] = entry.Status // cancelled/rejected entry holds nothing
			continue
		}
		// a zero recorded fill forces the live check even when the caller
		// skipped it: the exit quantity must never exceed what the broker
		// actually filled on the entry
		qty := entry.ExecutedQty
		if checkLiveStatus || qty == 0 {
			if live, ok := m.cache.Lookup(ctx, entry.BrokerName, entry.BrokerOrderID, entry.ProductType); ok {
				switch live.Status {
				case normalize.StatusCancelled, normalize.StatusRejected:
					skipped[entry.BrokerName] = live.Status
					continue
				}
				if live.FilledQty > 0 {
					qty = live.FilledQty
				}
			}
		}
		if qty == 0 {
			// no confirmed fill anywhere: cancel the resting entry instead
			// of placing a counter-order for quantity that may not exist
			if err := m.brokers.CancelOrder(ctx, entry.BrokerName, entry.BrokerOrderID, order.Symbol, entry.ProductType, ""); err != nil {
				log.Printf("[ordermanager] order %d: cancel unfilled entry via %s failed: %v", orderID, entry.BrokerName, err)
				if m.metrics != nil {
					m.metrics.BrokerErrors.WithLabelValues(entry.BrokerName, "cancel_order").Inc()
				}
				cancelFailed++
				continue
			}
			log.Printf("[ordermanager] order %d: entry unfilled at %s, cancelled instead of exiting", orderID, entry.BrokerName)
			skipped[entry.BrokerName] = "ENTRY_CANCELLED"
			continue
		}

		origSide := normalize.Action(entry.Action)
		exitAction := normalize.ExitAction(origSide)
		if exitAction == normalize.ActionExitSentinel {
			// never guess a side; leave the leg for manual resolution
			log.Printf("[ordermanager] order %d: entry side unresolvable for %s, not placing exit", orderID, entry.BrokerName)
			sentinel = true
			m.recordExit(ctx, order, entry, exitAction, 0, ltp, nil)
			continue
		}
		params[entry.BrokerName] = broker.ExitParams{
			BrokerOrderID: entry.BrokerOrderID,
			Symbol:        order.Symbol,
			ProductType:   entry.ProductType,
			Side:          exitAction,
			Quantity:      qty,
			ExitReason:    reason,
		}
	}

	results := m.brokers.ExitOrder(ctx, params)
	failed := 0
	for _, entry := range entries {
		res, ok := results[entry.BrokerName]
		if !ok {
			continue // skipped or sentinel leg
		}
		exitAction := normalize.ExitAction(normalize.Action(entry.Action))
		if res.Err != nil {
			failed++
			log.Printf("[ordermanager] exit via %s failed for order %d: %v", entry.BrokerName, orderID, res.Err)
			if m.metrics != nil {
				m.metrics.BrokerErrors.WithLabelValues(entry.BrokerName, "exit_order").Inc()
			}
			continue
		}
		m.recordExit(ctx, order, entry, exitAction, params[entry.BrokerName].Quantity, ltp, &res.Ack)
	}

	target := statusForExitReason(reason)
	if failed > 0 || cancelFailed > 0 || sentinel {
		target = model.StatusExitAtomicFailedPending
	}
	if len(params) == 0 && !sentinel && cancelFailed == 0 {
		// every entry was cancelled/rejected broker-side; nothing to flatten
		target = model.StatusCancelled
	}
	if err := m.store.SetOrderExit(ctx, orderID, ltp, reason, time.Now()); err != nil {
		log.Printf("[ordermanager] order %d: record exit fields: %v", orderID, err)
	}
	if err := m.store.TransitionOrder(ctx, orderID, target); err != nil {
		return fmt.Errorf("exit order %d: transition to %s: %w", orderID, target, err)
	}
	if m.metrics != nil {
		m.metrics.ExitsTotal.WithLabelValues(reason).Inc()
	}
	order.Status = target
	order.ExitReason = reason
	order.ExitPrice = ltp
	m.publish("exit_requested", order)
	log.Printf("[ordermanager] order %d → %s (reason=%s ltp=%.2f placed=%d failed=%d skipped=%d)",
		orderID, target, reason, ltp, len(params)-failed, failed, len(skipped))

	if failed > 0 || cancelFailed > 0 {
		return fmt.Errorf("exit order %d: %d broker exit(s) failed, retrying via monitor", orderID, failed+cancelFailed)
	}
	return nil
}

func (m *Manager) recordExit(ctx context.Context, order model.Order, entry model.BrokerExecution, action string, qty int64, price float64, ack *broker.OrderAck) {
	exec := model.BrokerExecution{
		ParentOrderID: order.ID,
		BrokerID:      entry.BrokerID,
		BrokerName:    entry.BrokerName,
		Side:          model.ExecutionExit,
		Action:        action,
		Status:        normalize.StatusPending,
		ExecutedQty:   qty,
		ExecPrice:     price,
		ExecTime:      time.Now(),
		ProductType:   entry.ProductType,
		OrderType:     string(model.OrderTypeMarket),
	}
	if ack != nil {
		exec.BrokerOrderID = ack.OrderID
		exec.Status = ack.Status
		exec.RawResponse = ack.Raw
	}
	if err := m.store.InsertExecution(ctx, &exec); err != nil {
		log.Printf("[ordermanager] persist exit row for %s failed: %v", entry.BrokerName, err)
	}
}

// ExitAll flattens every open-family order. Per-order failures are
// collected and reported together; the batch never aborts early.
func (m *Manager) ExitAll(ctx context.Context, reason string) error {
	orders, err := m.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("exit all: list open orders: %w", err)
	}
	var errs []error
	exited := 0
	for _, o := range orders {
		if !o.Status.IsOpenFamily() {
			continue
		}
		if err := m.ExitOrder(ctx, o.ID, reason, 0, true); err != nil {
			errs = append(errs, err)
			continue
		}
		exited++
	}
	log.Printf("[ordermanager] exit-all (%s): %d exited, %d failed", reason, exited, len(errs))
	if m.notifier != nil {
		level := notification.AlertInfo
		if len(errs) > 0 {
			level = notification.AlertWarning
		}
		_ = m.notifier.Send(ctx, notification.Alert{
			Level:   level,
			Title:   "Exit all positions",
			Message: fmt.Sprintf("reason=%s exited=%d failed=%d", reason, exited, len(errs)),
		})
	}
	return errors.Join(errs...)
}

// ProportionalPnL allocates a broker's aggregate day PnL to one order by
// its executed-quantity share. The numerator is always this order's own
// per-broker executed quantity, never a cross-order aggregate.
func ProportionalPnL(orderExecutedQty, brokerTotalQty int64, brokerTotalPnL float64) float64 {
	if brokerTotalQty == 0 || orderExecutedQty == 0 {
		return 0
	}
	return (float64(orderExecutedQty) / float64(brokerTotalQty)) * brokerTotalPnL
}

// statusForExitReason maps an exit reason onto its pending sub-state.
// Unrecognized reasons fall back to the manual sub-state.
func statusForExitReason(reason string) model.Status {
	r := strings.ToUpper(reason)
	switch {
	case strings.Contains(r, "TARGET"):
		return model.StatusExitTargetPending
	case strings.Contains(r, "STOPLOSS"), strings.Contains(r, "SL"):
		return model.StatusExitStoplossPending
	case strings.Contains(r, "REVERSAL"):
		return model.StatusExitReversalPending
	case strings.Contains(r, "EOD"), strings.Contains(r, "SQUARE"):
		return model.StatusExitEODPending
	case strings.Contains(r, "EXPIRY"):
		return model.StatusExitExpiryPending
	case strings.Contains(r, "RISK"):
		return model.StatusExitStoplossPending
	default:
		return model.StatusExitManualPending
	}
}

func jsonError(err error) []byte {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
