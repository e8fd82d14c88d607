package model

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the terminal outcome of a market order placement.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderTimeout  OrderStatus = "TIMEOUT"
)

// OrderRequest describes a market order to be placed through the gateway.
// It is owned transiently by the PositionManager during a transition and
// discarded once the transition completes or fails.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`

	// RequestedPrice is the last observed price when the order was issued.
	// Market orders carry it for slippage accounting and paper fills only.
	RequestedPrice float64 `json:"requested_price,omitempty"`
}

// OrderResult reports the outcome of an order placement. A Timeout status
// means no terminal state was observed within the order deadline; the
// exchange may still fill it later, which surfaces as a late fill report.
type OrderResult struct {
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	FilledPrice float64     `json:"filled_price"`
	Status      OrderStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
}
