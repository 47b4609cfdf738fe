package model

import "fmt"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the canonical order type vocabulary. Adapters translate
// these into broker-native codes.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeSL     OrderType = "SL"
	OrderTypeSLM    OrderType = "SL-M"
)

// OrderRequest is the immutable intent passed to every broker adapter.
// Built once per entry/exit attempt and never mutated afterwards.
type OrderRequest struct {
	Symbol       string            `json:"symbol"`
	Quantity     int64             `json:"quantity"`
	Side         Side              `json:"side"`
	OrderType    OrderType         `json:"order_type"`
	Price        float64           `json:"price"`
	TriggerPrice float64           `json:"trigger_price"`
	ProductType  string            `json:"product_type"`
	Validity     string            `json:"validity"`
	Exchange     string            `json:"exchange"`
	Segment      string            `json:"segment"`
	Variety      string            `json:"variety"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Validate checks the request invariants before it reaches any adapter.
func (r OrderRequest) Validate() error {
	if r.Quantity <= 0 {
		return fmt.Errorf("order request: quantity must be positive, got %d", r.Quantity)
	}
	if r.OrderType == OrderTypeLimit && r.Price == 0 {
		return fmt.Errorf("order request: limit order for %s requires a price", r.Symbol)
	}
	if r.OrderTypeIsStop() && r.TriggerPrice == 0 {
		return fmt.Errorf("order request: stop order for %s requires a trigger price", r.Symbol)
	}
	return nil
}

// OrderTypeIsStop reports whether the request is a stop-loss variant.
func (r OrderRequest) OrderTypeIsStop() bool {
	return r.OrderType == OrderTypeSL || r.OrderType == OrderTypeSLM
}
