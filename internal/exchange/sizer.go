package exchange

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// AccountReader is the slice of the gateway the sizer depends on.
type AccountReader interface {
	FreeBalance(ctx context.Context, asset string) (float64, error)
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
}

// filtersTTL bounds how long cached symbol filters are reused; they change
// rarely, and refetching per entry would burn the API budget.
const filtersTTL = time.Hour

// BalanceSizer sizes entries from the free quote balance: spend everything
// above the configured reserve, floored to the symbol's quantity step.
// Entries below the exchange's minimum quantity or notional are skipped by
// returning zero.
type BalanceSizer struct {
	account    AccountReader
	symbol     string
	quoteAsset string  // e.g. "USDT"
	reserved   float64 // quote units kept aside for fees

	mu         sync.Mutex
	filters    SymbolFilters
	filtersAge time.Time

	log *slog.Logger
}

// NewBalanceSizer creates a sizer spending the quote balance above reserved.
func NewBalanceSizer(account AccountReader, symbol, quoteAsset string, reserved float64, log *slog.Logger) *BalanceSizer {
	return &BalanceSizer{
		account:    account,
		symbol:     symbol,
		quoteAsset: quoteAsset,
		reserved:   reserved,
		log:        log,
	}
}

// QuantityFor computes the entry quantity at the given price. Zero means
// "skip the entry" (insufficient balance or below market minimums).
func (s *BalanceSizer) QuantityFor(ctx context.Context, price float64) (float64, error) {
	free, err := s.account.FreeBalance(ctx, s.quoteAsset)
	if err != nil {
		return 0, err
	}

	avail := free - s.reserved
	if avail <= 0 {
		s.log.Warn("insufficient balance after fee reserve",
			slog.Float64("free", free),
			slog.Float64("reserved", s.reserved))
		return 0, nil
	}

	f, err := s.symbolFilters(ctx)
	if err != nil {
		return 0, err
	}

	qty := avail / price
	if f.StepSize > 0 {
		qty = math.Floor(qty/f.StepSize) * f.StepSize
	}

	if qty < f.MinQty || qty*price < f.MinNotional {
		s.log.Warn("entry below market minimums, skipped",
			slog.Float64("qty", qty),
			slog.Float64("notional", qty*price),
			slog.Float64("min_qty", f.MinQty),
			slog.Float64("min_notional", f.MinNotional))
		return 0, nil
	}

	return qty, nil
}

func (s *BalanceSizer) symbolFilters(ctx context.Context) (SymbolFilters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filtersAge.IsZero() && time.Since(s.filtersAge) < filtersTTL {
		return s.filters, nil
	}

	f, err := s.account.SymbolFilters(ctx, s.symbol)
	if err != nil {
		if !s.filtersAge.IsZero() {
			// Stale filters beat a skipped entry.
			return s.filters, nil
		}
		return SymbolFilters{}, err
	}
	s.filters = f
	s.filtersAge = time.Now()
	return f, nil
}
