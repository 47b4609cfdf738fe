package model

import "time"

// BalanceSummary is one funds snapshot for one broker. The monitor upserts
// the latest snapshot per broker per poll tick, latest wins.
type BalanceSummary struct {
	BrokerID     int64     `json:"broker_id"`
	BrokerName   string    `json:"broker_name"`
	TotalBalance float64   `json:"total_balance"`
	Available    float64   `json:"available"`
	Utilized     float64   `json:"utilized"`
	FetchedAt    time.Time `json:"fetched_at"`
}
