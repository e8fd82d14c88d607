package exchange

import (
	"context"
	"math"
	"testing"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
)

func TestPaperGateway_SlippageDirection(t *testing.T) {
	p := NewPaperGateway(50, testLogger(t)) // 0.5%

	buy, err := p.PlaceMarketOrder(context.Background(), model.OrderRequest{
		Symbol: "DOGEUSDT", Side: model.SideBuy, Quantity: 100, RequestedPrice: 0.08,
	})
	if err != nil || buy.Status != model.OrderFilled {
		t.Fatalf("buy: %v %s", err, buy.Status)
	}
	if buy.FilledPrice <= 0.08 {
		t.Errorf("buy must fill above requested price, got %v", buy.FilledPrice)
	}
	if math.Abs(buy.FilledPrice-0.08*1.005) > 1e-12 {
		t.Errorf("buy fill: got %v, want %v", buy.FilledPrice, 0.08*1.005)
	}

	sell, err := p.PlaceMarketOrder(context.Background(), model.OrderRequest{
		Symbol: "DOGEUSDT", Side: model.SideSell, Quantity: 100, RequestedPrice: 0.08,
	})
	if err != nil || sell.Status != model.OrderFilled {
		t.Fatalf("sell: %v %s", err, sell.Status)
	}
	if sell.FilledPrice >= 0.08 {
		t.Errorf("sell must fill below requested price, got %v", sell.FilledPrice)
	}
}

func TestPaperGateway_UniqueOrderIDs(t *testing.T) {
	p := NewPaperGateway(0, testLogger(t))
	seen := map[string]bool{}

	for i := 0; i < 5; i++ {
		res, err := p.PlaceMarketOrder(context.Background(), model.OrderRequest{
			Symbol: "DOGEUSDT", Side: model.SideBuy, Quantity: 1, RequestedPrice: 0.08,
		})
		if err != nil {
			t.Fatalf("order %d: %v", i, err)
		}
		if seen[res.OrderID] {
			t.Fatalf("duplicate order id %s", res.OrderID)
		}
		seen[res.OrderID] = true
	}
}

func TestPaperGateway_RejectNext(t *testing.T) {
	p := NewPaperGateway(0, testLogger(t))
	p.RejectNext(2)

	for i := 0; i < 2; i++ {
		res, _ := p.PlaceMarketOrder(context.Background(), model.OrderRequest{
			Symbol: "DOGEUSDT", Side: model.SideSell, Quantity: 1, RequestedPrice: 0.08,
		})
		if res.Status != model.OrderRejected {
			t.Fatalf("order %d: expected rejection, got %s", i, res.Status)
		}
	}

	res, _ := p.PlaceMarketOrder(context.Background(), model.OrderRequest{
		Symbol: "DOGEUSDT", Side: model.SideSell, Quantity: 1, RequestedPrice: 0.08,
	})
	if res.Status != model.OrderFilled {
		t.Fatalf("expected fill after scripted rejections, got %s", res.Status)
	}
}
