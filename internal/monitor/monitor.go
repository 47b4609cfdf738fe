// Package monitor holds the independent polling loops that reconcile
// persisted order, position and balance state against each broker's
// live-reported state. Every loop is a "work, sleep(interval)" cycle;
// an error inside one tick is logged and the loop continues.
package monitor

import (
	"context"
	"time"

	"trading-execv1/internal/model"
)

// Store is the persistence surface the monitors consume. Monitors mutate
// only status, price and quantity fields, never order identity.
type Store interface {
	ListOpenOrders(ctx context.Context) ([]model.Order, error)
	ExecutionsForOrder(ctx context.Context, parentID int64, side model.ExecutionSide) ([]model.BrokerExecution, error)
	UpdateExecution(ctx context.Context, e *model.BrokerExecution) error
	TransitionOrder(ctx context.Context, id int64, to model.Status) error
	SetOrderEntry(ctx context.Context, id int64, entryPrice float64, entryTime time.Time) error
	UpdateOrderPrice(ctx context.Context, id int64, current float64, at time.Time) error
	CloseOrder(ctx context.Context, id int64, exitPrice, pnl float64) error
	UpsertBalanceSummary(ctx context.Context, b model.BalanceSummary) error
}

// EventSink mirrors reconciliation outcomes to an external live view
// (the Redis publisher). Best effort, never blocks a tick.
type EventSink interface {
	PublishOrderEvent(event string, o model.Order)
	PublishBalance(b model.BalanceSummary)
}

// runLoop drives one monitor: tick immediately, then on interval until
// ctx is cancelled. A slow tick delays only its own loop.
func runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	tick(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick(ctx)
		}
	}
}
