package normalize

import (
	"log"
	"strings"

	"trading-execv1/internal/model"
)

// Canonical execution statuses. These describe a single broker-side order
// leg, not the Order aggregate (see model.Status for that machine).
const (
	StatusPending   = "PENDING" // accepted by broker, not yet at the exchange
	StatusOpen      = "OPEN"    // working at the exchange
	StatusFilled    = "FILLED"
	StatusPartial   = "PARTIAL"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

// fyers reports numeric status codes.
var fyersStatus = map[string]string{
	"1": StatusCancelled,
	"2": StatusFilled,
	"4": StatusPending, // in transit
	"5": StatusRejected,
	"6": StatusOpen,
}

var zerodhaStatus = map[string]string{
	"COMPLETE":               StatusFilled,
	"OPEN":                   StatusOpen,
	"OPEN PENDING":           StatusPending,
	"TRIGGER PENDING":        StatusPending,
	"VALIDATION PENDING":     StatusPending,
	"PUT ORDER REQ RECEIVED": StatusPending,
	"MODIFY PENDING":         StatusPending,
	"CANCELLED":              StatusCancelled,
	"REJECTED":               StatusRejected,
}

var angelStatus = map[string]string{
	"COMPLETE":               StatusFilled,
	"OPEN":                   StatusOpen,
	"TRIGGER PENDING":        StatusPending,
	"PUT ORDER REQ RECEIVED": StatusPending,
	"CANCELLED":              StatusCancelled,
	"REJECTED":               StatusRejected,
}

// Status maps a broker-native status token onto the canonical vocabulary.
// Unknown tokens pass through unchanged: reconciliation fails open on
// vocabulary drift rather than misclassifying a live order.
func Status(broker, raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	var m map[string]string
	switch strings.ToLower(broker) {
	case "fyers":
		m = fyersStatus
		key = strings.TrimSpace(raw) // numeric codes, no upper-casing needed
	case "zerodha":
		m = zerodhaStatus
	case "angel":
		m = angelStatus
	default:
		return key
	}
	if canon, ok := m[key]; ok {
		return canon
	}
	log.Printf("[normalize] unknown %s status %q, passing through", broker, raw)
	return key
}

// IsTerminalStatus reports whether a canonical execution status is final.
func IsTerminalStatus(s string) bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// fyers order-type codes: 1=limit, 2=market, 3=stop (SL-M), 4=stoplimit (SL).
var fyersOrderType = map[model.OrderType]string{
	model.OrderTypeLimit:  "1",
	model.OrderTypeMarket: "2",
	model.OrderTypeSLM:    "3",
	model.OrderTypeSL:     "4",
}

var angelOrderType = map[model.OrderType]string{
	model.OrderTypeLimit:  "LIMIT",
	model.OrderTypeMarket: "MARKET",
	model.OrderTypeSL:     "STOPLOSS_LIMIT",
	model.OrderTypeSLM:    "STOPLOSS_MARKET",
}

// OrderTypeCode converts a canonical order type into the broker-native
// code. Unmapped types pass through as their canonical spelling.
func OrderTypeCode(broker string, ot model.OrderType) string {
	var m map[model.OrderType]string
	switch strings.ToLower(broker) {
	case "fyers":
		m = fyersOrderType
	case "angel":
		m = angelOrderType
	default:
		// zerodha uses the canonical spellings natively
		return string(ot)
	}
	if code, ok := m[ot]; ok {
		return code
	}
	log.Printf("[normalize] unmapped order type %q for %s, passing through", ot, broker)
	return string(ot)
}
