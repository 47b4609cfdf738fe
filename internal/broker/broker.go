// Package broker defines the capability contract every broker adapter
// implements and the manager that fans calls out across all authenticated
// brokers. Adapters own their wire formats and return values already
// normalized into the canonical vocabulary; nothing outside this package
// sees broker-native tokens.
package broker

import (
	"context"
	"encoding/json"

	"trading-execv1/internal/model"
)

// OrderAck is the normalized acknowledgement of a place/exit call.
type OrderAck struct {
	OrderID string          `json:"order_id"`
	Status  string          `json:"status"` // normalized execution status
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"` // opaque broker payload, kept for audit
}

// ExitParams identifies the position leg an exit order must flatten.
type ExitParams struct {
	BrokerOrderID string // stored ENTRY id; adapters handle suffix rewrites themselves
	Symbol        string // canonical symbol
	ProductType   string
	Variety       string
	Side          string // normalized exit action (BUY/SELL)
	Quantity      int64
	ExitReason    string
}

// SymbolInfo is the broker's resolution of a canonical symbol.
type SymbolInfo struct {
	Symbol          string `json:"symbol"` // broker-native spelling
	InstrumentToken string `json:"instrument_token"`
}

// Broker is the fixed capability interface implemented per broker.
// Every method takes a context carrying the call deadline; a timeout is a
// transient error, never fatal to the caller's loop.
type Broker interface {
	Name() string
	Login(ctx context.Context) error
	PlaceOrder(ctx context.Context, req model.OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, brokerOrderID, symbol, productType, variety string) error
	ExitOrder(ctx context.Context, p ExitParams) (OrderAck, error)
	GetOrderDetails(ctx context.Context) ([]model.BrokerOrderDetail, error)
	GetPositions(ctx context.Context) ([]model.BrokerPosition, error)
	GetBalanceSummary(ctx context.Context) (model.BalanceSummary, error)
	GetSymbolInfo(ctx context.Context, symbol, instrumentType string) (SymbolInfo, error)
	GetLTP(ctx context.Context, symbol string) (float64, error)
}
