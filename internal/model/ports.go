package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the decision loop from concrete transport and
// storage implementations (Binance REST, paper executor, SQLite, Redis).

// OrderGateway places market orders against the exchange. Implementations
// must return a terminal OrderResult status (Filled, Rejected or Timeout)
// whenever possible; a non-nil error means no terminal status could be
// produced and the caller treats the attempt as rejected. The caller never
// issues a second order for the same transition before observing a
// terminal status for the first.
type OrderGateway interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// FillReporter is implemented by gateways that push asynchronous execution
// reports (e.g. user-data streams). Reports may duplicate results already
// returned by PlaceMarketOrder; consumers must deduplicate by order id.
type FillReporter interface {
	Fills() <-chan OrderResult
}

// TradeSink persists closed trades. Record is fire-and-forget from the
// decision loop's perspective: failures are surfaced as errors but never
// block or roll back the state machine.
type TradeSink interface {
	Record(ctx context.Context, trade TradeRecord) error
	Close() error
}

// Sizer computes the order quantity for a new entry at the given price.
// Returning zero quantity skips the entry without error.
type Sizer interface {
	QuantityFor(ctx context.Context, price float64) (float64, error)
}

// FixedSizer is a Sizer that always trades the same quantity.
type FixedSizer float64

func (s FixedSizer) QuantityFor(context.Context, float64) (float64, error) {
	return float64(s), nil
}
