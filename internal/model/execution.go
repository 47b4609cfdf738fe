package model

import (
	"encoding/json"
	"time"
)

// ExecutionSide marks which phase of a trade a broker execution belongs to.
type ExecutionSide string

const (
	ExecutionEntry ExecutionSide = "ENTRY"
	ExecutionExit  ExecutionSide = "EXIT"
)

// BrokerExecution is one row per order × broker × phase. ENTRY rows are
// created at placement and updated in place by the monitors; EXIT rows are
// appended on exit and never overwrite the ENTRY. At most one unresolved
// ENTRY row exists per (order, broker). Rows are never deleted.
type BrokerExecution struct {
	ID            int64           `json:"id"`
	ParentOrderID int64           `json:"parent_order_id"`
	BrokerID      int64           `json:"broker_id"`
	BrokerName    string          `json:"broker_name"`
	BrokerOrderID string          `json:"broker_order_id"` // broker-assigned, may grow suffixes on fill
	Side          ExecutionSide   `json:"side"`
	Action        string          `json:"action"` // normalized BUY/SELL; "EXIT" sentinel when entry side unresolvable
	Status        string          `json:"status"` // normalized broker status
	ExecutedQty   int64           `json:"executed_quantity"`
	ExecPrice     float64         `json:"execution_price"`
	ExecTime      time.Time       `json:"execution_time"`
	ProductType   string          `json:"product_type"`
	OrderType     string          `json:"order_type"`
	RawResponse   json.RawMessage `json:"raw_response"` // opaque audit payload
}

// BrokerOrderDetail is one entry of a broker's live order listing, already
// normalized into the canonical vocabulary by the adapter.
type BrokerOrderDetail struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"` // broker-native symbol
	Status      string    `json:"status"` // normalized
	RawStatus   string    `json:"raw_status"`
	Action      string    `json:"action"` // normalized BUY/SELL
	ProductType string    `json:"product_type"`
	OrderType   string    `json:"order_type"`
	Qty         int64     `json:"qty"`
	FilledQty   int64     `json:"filled_qty"`
	AvgPrice    float64   `json:"avg_price"`
	UpdateTime  time.Time `json:"update_time"`
}
