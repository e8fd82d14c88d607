package model

import "time"

// PricePoint is a single market price observation from the data feed.
// Prices are float64 in quote currency (e.g. USDT); crypto pairs quote
// far below one unit, so an integer minor-unit encoding doesn't apply.
type PricePoint struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"` // exchange timestamp, UTC
}
