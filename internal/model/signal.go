package model

import "time"

// SignalType distinguishes what kind of order a TradeSignal asks for.
type SignalType string

const (
	SignalEntry    SignalType = "ENTRY"
	SignalStoploss SignalType = "STOPLOSS"
	SignalTrail    SignalType = "TRAIL"
)

// TradeSignal is emitted by the strategy layer and consumed by the
// OrderManager. Immutable except for the terminal status/exit fields,
// which the execution engine fills in when the trade resolves.
type TradeSignal struct {
	Symbol      string     `json:"symbol"` // canonical strike symbol
	Side        Side       `json:"side"`
	SignalType  SignalType `json:"signal_type"`
	Price       float64    `json:"price"`
	EntryPrice  float64    `json:"entry_price"`
	StopLoss    float64    `json:"stop_loss"`
	TargetPrice float64    `json:"target_price"`
	LotQty      int64      `json:"lot_qty"`
	SignalTime  time.Time  `json:"signal_time"`
	ExpiryDate  string     `json:"expiry_date,omitempty"`

	// Terminal fields, set by the engine.
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ExitTime  time.Time `json:"exit_time,omitempty"`
	ExitPrice float64   `json:"exit_price,omitempty"`
}
