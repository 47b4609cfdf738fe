package model

// BrokerPosition is one net position as reported by a broker, already
// mapped onto canonical field names by the adapter. Quantities and the
// day PnL are the broker's own aggregates across all orders on the symbol.
type BrokerPosition struct {
	TradingSymbol string  `json:"tradingsymbol"` // broker-native symbol
	Exchange      string  `json:"exchange"`
	Product       string  `json:"product"`
	NetQty        int64   `json:"net_qty"` // positive = long, negative = short
	BuyQty        int64   `json:"buy_quantity"`
	OvernightQty  int64   `json:"overnight_quantity"`
	SellQty       int64   `json:"sell_quantity"`
	BuyPrice      float64 `json:"buy_price"`
	SellPrice     float64 `json:"sell_price"`
	LastPrice     float64 `json:"last_price"`
	DayPnL        float64 `json:"day_pnl"` // broker-reported aggregate realized PnL for the day
}

// UnrealizedPnL computes the open PnL of the net position at the last price.
func (p *BrokerPosition) UnrealizedPnL() float64 {
	return (p.LastPrice - p.BuyPrice) * float64(p.NetQty)
}
