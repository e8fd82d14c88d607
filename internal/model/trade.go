package model

import "time"

// TradeRecord is the durable record of one completed Flat→…→Flat cycle.
// Created once per closed position, handed to the TradeSink, then owned
// by it.
type TradeRecord struct {
	Symbol       string    `json:"symbol"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Quantity     float64   `json:"quantity"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	PnL          float64   `json:"pnl"`
	ExitReason   string    `json:"exit_reason"`
	EntryOrderID string    `json:"entry_order_id"`
	ExitOrderID  string    `json:"exit_order_id"`
}
