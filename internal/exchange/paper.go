package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
)

// PaperGateway simulates order execution without real exchange calls.
// Orders fill at the requested price adjusted by configurable slippage:
// buys fill higher, sells fill lower. Useful for paper trading and for
// failure drills via RejectNext.
type PaperGateway struct {
	mu          sync.Mutex
	orderSeq    int64
	rejectNext  int
	slippageBps float64
	log         *slog.Logger
}

// NewPaperGateway creates a paper trading gateway.
// slippageBps controls simulated slippage in basis points (5 = 0.05%).
func NewPaperGateway(slippageBps float64, log *slog.Logger) *PaperGateway {
	return &PaperGateway{slippageBps: slippageBps, log: log}
}

// RejectNext makes the next n orders come back rejected — a cheap way to
// rehearse the retry and exit-pending paths without a flaky exchange.
func (p *PaperGateway) RejectNext(n int) {
	p.mu.Lock()
	p.rejectNext = n
	p.mu.Unlock()
}

// PlaceMarketOrder simulates an immediate fill.
func (p *PaperGateway) PlaceMarketOrder(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)
	reject := p.rejectNext > 0
	if reject {
		p.rejectNext--
	}
	p.mu.Unlock()

	if reject {
		return model.OrderResult{
			OrderID:  orderID,
			Symbol:   req.Symbol,
			Side:     req.Side,
			Quantity: req.Quantity,
			Status:   model.OrderRejected,
			Message:  "paper rejection (scripted)",
		}, nil
	}

	fillPrice := req.RequestedPrice
	if p.slippageBps > 0 && fillPrice > 0 {
		slip := fillPrice * p.slippageBps / 10000
		if req.Side == model.SideBuy {
			fillPrice += slip // buy higher
		} else {
			fillPrice -= slip // sell lower
		}
	}

	p.log.Info("paper fill",
		slog.String("order_id", orderID),
		slog.String("side", string(req.Side)),
		slog.Float64("qty", req.Quantity),
		slog.Float64("price", fillPrice))

	return model.OrderResult{
		OrderID:     orderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FilledPrice: fillPrice,
		Status:      model.OrderFilled,
		Message:     fmt.Sprintf("paper filled at %.8f", fillPrice),
	}, nil
}
