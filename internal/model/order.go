package model

import "time"

// Status is the lifecycle state of an Order aggregate.
//
// Transitions are monotonic: AWAITING_ENTRY → {OPEN, PARTIALLY_FILLED,
// REJECTED, FAILED} → EXIT_*_PENDING → {CLOSED, CANCELLED}. Once an order
// reaches CLOSED or CANCELLED it never leaves. There is deliberately no
// AWAITING_ENTRY → CLOSED shortcut: an order can only close through an
// exit-pending state, so a crash mid-exit always leaves a resumable
// pending order, never a falsely closed one.
type Status string

const (
	StatusAwaitingEntry   Status = "AWAITING_ENTRY"
	StatusOpen            Status = "OPEN"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"

	StatusExitTargetPending       Status = "EXIT_TARGET_PENDING"
	StatusExitStoplossPending     Status = "EXIT_STOPLOSS_PENDING"
	StatusExitReversalPending     Status = "EXIT_REVERSAL_PENDING"
	StatusExitEODPending          Status = "EXIT_EOD_PENDING"
	StatusExitExpiryPending       Status = "EXIT_EXPIRY_PENDING"
	StatusExitManualPending       Status = "EXIT_MANUAL_PENDING"
	StatusExitAtomicFailedPending Status = "EXIT_ATOMIC_FAILED_PENDING"

	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// IsOpenFamily reports whether the order still holds (or may hold) a live
// position. These are the orders exit-all iterates over.
func (s Status) IsOpenFamily() bool {
	switch s {
	case StatusAwaitingEntry, StatusOpen, StatusPartiallyFilled:
		return true
	}
	return false
}

// IsExitPending reports whether s is one of the EXIT_*_PENDING sub-states.
func (s Status) IsExitPending() bool {
	switch s {
	case StatusExitTargetPending, StatusExitStoplossPending,
		StatusExitReversalPending, StatusExitEODPending,
		StatusExitExpiryPending, StatusExitManualPending,
		StatusExitAtomicFailedPending:
		return true
	}
	return false
}

// rank orders the states so transitions can only move forward, or sideways
// within the same phase (OPEN ↔ PARTIALLY_FILLED on fill deltas).
func (s Status) rank() int {
	switch {
	case s == StatusAwaitingEntry:
		return 0
	case s == StatusOpen || s == StatusPartiallyFilled || s == StatusRejected || s == StatusFailed:
		return 1
	case s.IsExitPending():
		return 2
	case s.IsTerminal():
		return 3
	}
	return -1
}

// CanTransition reports whether moving from → to is a legal status change.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	fr, tr := from.rank(), to.rank()
	if fr < 0 || tr < 0 {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	// AWAITING_ENTRY may be cancelled outright but never jumps to CLOSED.
	if from == StatusAwaitingEntry && to == StatusClosed {
		return false
	}
	return tr >= fr
}

// Order is the aggregate root for a multi-broker trade. Its ID (the
// parent_order_id) is the stable DB identity shared by every per-broker
// execution row, across brokers and across broker order-id rewrites.
// Mutated only by entry placement, monitor reconciliation, and exit
// completion; retained indefinitely for audit.
type Order struct {
	ID               int64     `json:"id"` // parent_order_id
	StrategyID       int64     `json:"strategy_id"`
	StrategySymbolID int64     `json:"strategy_symbol_id"`
	Symbol           string    `json:"symbol"` // canonical strike symbol
	Side             string    `json:"side"`   // BUY or SELL
	Qty              int64     `json:"qty"`
	EntryPrice       float64   `json:"entry_price"`
	CurrentPrice     float64   `json:"current_price"`
	PriceLastUpdated time.Time `json:"price_last_updated"`
	Status           Status    `json:"status"`
	SignalTime       time.Time `json:"signal_time"`
	EntryTime        time.Time `json:"entry_time"`
	ExitTime         time.Time `json:"exit_time"`
	ExitPrice        float64   `json:"exit_price"`
	ExitReason       string    `json:"exit_reason"`
	PnL              float64   `json:"pnl"`
}
