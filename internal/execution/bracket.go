package execution

import (
	"math"

	"trading-execv1/internal/model"
)

// tickSize is the NSE options price tick.
const tickSize = 0.05

// RoundTick rounds a price to the nearest exchange tick.
func RoundTick(price float64) float64 {
	return math.Round(price/tickSize) * tickSize
}

// BracketLevels derives the stop-loss and take-profit OFFSETS a bracket or
// cover product wants, from absolute signal prices. Brokers take these as
// distances from the limit price, not levels: for a BUY, the stop sits
// below the limit and the target above, mirrored for SELL. Offsets clamp
// at zero and round to the tick.
func BracketLevels(side model.Side, limitPrice, rawStopLoss, rawTakeProfit float64) (stopLoss, takeProfit float64) {
	switch side {
	case model.SideSell:
		stopLoss = rawStopLoss - limitPrice
		takeProfit = limitPrice - rawTakeProfit
	default: // BUY
		stopLoss = limitPrice - rawStopLoss
		takeProfit = rawTakeProfit - limitPrice
	}
	stopLoss = math.Max(0, stopLoss)
	takeProfit = math.Max(0, takeProfit)
	return RoundTick(stopLoss), RoundTick(takeProfit)
}

// IsBracketProduct reports whether a product type bundles linked exit legs.
func IsBracketProduct(productType string) bool {
	switch productType {
	case "BO", "CO", "BRACKET", "COVER", "MARGIN":
		return true
	}
	return false
}
