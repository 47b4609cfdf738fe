package execution

import (
	"log"

	"trading-execv1/internal/model"
)

// OrderDefaults fixes the order_type/product_type/variety a broker expects
// for each signal type. Entry, stoploss and trail orders use different
// combinations per broker.
type OrderDefaults struct {
	OrderType   model.OrderType
	ProductType string
	Variety     string
	Validity    string
	Exchange    string
}

type defaultsKey struct {
	broker     string
	signalType model.SignalType
}

var orderDefaults = map[defaultsKey]OrderDefaults{
	{"zerodha", model.SignalEntry}: {
		OrderType: model.OrderTypeMarket, ProductType: "MIS",
		Variety: "regular", Validity: "DAY", Exchange: "NFO",
	},
	{"zerodha", model.SignalStoploss}: {
		OrderType: model.OrderTypeSL, ProductType: "NRML",
		Variety: "regular", Validity: "DAY", Exchange: "NFO",
	},
	{"zerodha", model.SignalTrail}: {
		OrderType: model.OrderTypeSL, ProductType: "NRML",
		Variety: "regular", Validity: "DAY", Exchange: "NFO",
	},
	{"fyers", model.SignalEntry}: {
		OrderType: model.OrderTypeMarket, ProductType: "INTRADAY",
		Validity: "DAY", Exchange: "NSE",
	},
	{"fyers", model.SignalStoploss}: {
		OrderType: model.OrderTypeSL, ProductType: "BRACKET",
		Validity: "DAY", Exchange: "NSE",
	},
	{"fyers", model.SignalTrail}: {
		OrderType: model.OrderTypeSL, ProductType: "BRACKET",
		Validity: "DAY", Exchange: "NSE",
	},
	{"angel", model.SignalEntry}: {
		OrderType: model.OrderTypeMarket, ProductType: "INTRADAY",
		Variety: "NORMAL", Validity: "DAY", Exchange: "NFO",
	},
	{"angel", model.SignalStoploss}: {
		OrderType: model.OrderTypeSL, ProductType: "CARRYFORWARD",
		Variety: "STOPLOSS", Validity: "DAY", Exchange: "NFO",
	},
	{"angel", model.SignalTrail}: {
		OrderType: model.OrderTypeSL, ProductType: "CARRYFORWARD",
		Variety: "STOPLOSS", Validity: "DAY", Exchange: "NFO",
	},
}

// DefaultsFor returns the broker's defaults for a signal type, falling back
// to a plain intraday market order when the pair is unmapped.
func DefaultsFor(broker string, st model.SignalType) OrderDefaults {
	if d, ok := orderDefaults[defaultsKey{broker, st}]; ok {
		return d
	}
	log.Printf("[execution] no order defaults for (%s, %s), using market/intraday", broker, st)
	return OrderDefaults{
		OrderType: model.OrderTypeMarket, ProductType: "INTRADAY",
		Validity: "DAY", Exchange: "NFO",
	}
}
