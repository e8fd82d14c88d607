package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
)

// DefaultAPIURL is the Binance spot REST endpoint.
const DefaultAPIURL = "https://api.binance.com"

// GatewayConfig configures the REST order gateway.
type GatewayConfig struct {
	BaseURL   string // DefaultAPIURL when empty
	APIKey    string
	APISecret string
}

// Gateway places signed market orders against the Binance REST API and
// reads account/exchange information for order sizing. All failures
// surface as OrderResult statuses or errors — never panics; a context
// deadline on the order call is the caller's order timeout.
type Gateway struct {
	cfg   GatewayConfig
	httpc *http.Client
	log   *slog.Logger
}

// NewGateway creates a gateway. The HTTP client carries no timeout of its
// own; every call is bounded by the caller's context.
func NewGateway(cfg GatewayConfig, log *slog.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	return &Gateway{
		cfg:   cfg,
		httpc: &http.Client{},
		log:   log,
	}
}

// apiError is the Binance error payload.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// orderResponse is the FULL response of POST /api/v3/order.
type orderResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
	Fills   []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// PlaceMarketOrder submits one market order. The returned status is
// terminal: Filled with the volume-weighted fill price, or Rejected with
// the exchange message. Transport errors (including the context deadline)
// return a non-nil error for the caller to classify.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	params.Set("newOrderRespType", "FULL")

	body, status, err := g.signedCall(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return model.OrderResult{}, err
	}

	if status != http.StatusOK {
		var apiErr apiError
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			msg = fmt.Sprintf("%s (code %d)", apiErr.Msg, apiErr.Code)
		}
		return model.OrderResult{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Quantity: req.Quantity,
			Status:   model.OrderRejected,
			Message:  msg,
		}, nil
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.OrderResult{}, fmt.Errorf("gateway: decode order response: %w", err)
	}

	res := model.OrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
	}

	if resp.Status != "FILLED" {
		res.Status = model.OrderRejected
		res.Message = "order not filled: " + resp.Status
		return res, nil
	}

	res.Status = model.OrderFilled
	res.FilledPrice = avgFillPrice(resp)
	if res.FilledPrice == 0 {
		res.FilledPrice = req.RequestedPrice
	}
	return res, nil
}

// avgFillPrice computes the volume-weighted average over partial fills.
func avgFillPrice(resp orderResponse) float64 {
	var notional, qty float64
	for _, f := range resp.Fills {
		p, err1 := strconv.ParseFloat(f.Price, 64)
		q, err2 := strconv.ParseFloat(f.Qty, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		notional += p * q
		qty += q
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// accountResponse is the subset of GET /api/v3/account the sizer needs.
type accountResponse struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
}

// FreeBalance returns the free balance of the given asset.
func (g *Gateway) FreeBalance(ctx context.Context, asset string) (float64, error) {
	body, status, err := g.signedCall(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("gateway: account query failed: %s", strings.TrimSpace(string(body)))
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("gateway: decode account response: %w", err)
	}
	for _, b := range resp.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("gateway: bad balance %q for %s: %w", b.Free, asset, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

// SymbolFilters are the market restrictions relevant to sizing.
type SymbolFilters struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// SymbolFilters fetches the LOT_SIZE and NOTIONAL filters for a symbol.
func (g *Gateway) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	u := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", g.cfg.BaseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SymbolFilters{}, err
	}
	body, status, err := g.do(req)
	if err != nil {
		return SymbolFilters{}, err
	}
	if status != http.StatusOK {
		return SymbolFilters{}, fmt.Errorf("gateway: exchangeInfo failed: %s", strings.TrimSpace(string(body)))
	}

	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SymbolFilters{}, fmt.Errorf("gateway: decode exchangeInfo: %w", err)
	}

	var out SymbolFilters
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				out.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				out.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "NOTIONAL", "MIN_NOTIONAL":
				out.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		return out, nil
	}
	return SymbolFilters{}, fmt.Errorf("gateway: symbol %s not in exchangeInfo", symbol)
}

// signedCall issues an HMAC-SHA256 signed request with the API key header.
func (g *Gateway) signedCall(ctx context.Context, method, path string, params url.Values) ([]byte, int, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()

	mac := hmac.New(sha256.New, []byte(g.cfg.APISecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path+"?"+query, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-MBX-APIKEY", g.cfg.APIKey)

	return g.do(req)
}

func (g *Gateway) do(req *http.Request) ([]byte, int, error) {
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
