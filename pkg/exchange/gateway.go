package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
	"github.com/uhyunpark/nadotrader/pkg/fixedpoint"
	"github.com/uhyunpark/nadotrader/pkg/order"
)

// Gateway is the HTTP transport to the exchange's execute and query
// endpoints. Responses classify into three shapes: success, RejectError
// (the engine said no, terminal) and plain errors (transport or gateway
// trouble, retryable upstream).
type Gateway struct {
	baseURL string
	client  *http.Client
}

func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send posts a signed instruction to the execute endpoint.
// The body is {"<method>": payload}, e.g. {"place_order": {...}}.
func (g *Gateway) Send(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	return g.post(ctx, g.baseURL+"/execute", map[string]any{method: payload})
}

// Query posts a read-only request to the query endpoint.
func (g *Gateway) Query(ctx context.Context, queryType string, params any) (json.RawMessage, error) {
	body := map[string]any{"type": queryType}
	if params != nil {
		body["params"] = params
	}
	return g.post(ctx, g.baseURL+"/query", body)
}

func (g *Gateway) post(ctx context.Context, url string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// 5xx and 429 are transport-level trouble: retryable.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "success" {
		return nil, &RejectError{Code: env.ErrorCode, Reason: env.Error}
	}
	return env.Data, nil
}

// Products loads the product catalog.
func (g *Gateway) Products(ctx context.Context) ([]order.Product, error) {
	data, err := g.Query(ctx, "all_products", nil)
	if err != nil {
		return nil, err
	}

	var wire struct {
		PerpProducts []ProductJSON `json:"perp_products"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	products := make([]order.Product, 0, len(wire.PerpProducts))
	for _, p := range wire.PerpProducts {
		oracle := decimal.Zero
		if p.OraclePriceX18 != "" {
			v, err := ParseX18(p.OraclePriceX18)
			if err != nil {
				return nil, fmt.Errorf("product %d: %w", p.ProductID, err)
			}
			oracle = fixedpoint.FromX18(v)
		}
		products = append(products, order.Product{
			ID:            p.ProductID,
			Symbol:        p.Symbol,
			PriceDecimals: p.PriceDecimals,
			SizeDecimals:  p.SizeDecimals,
			OraclePrice:   oracle,
		})
	}
	return products, nil
}

// SubaccountInfo fetches health and balances for a subaccount.
func (g *Gateway) SubaccountInfo(ctx context.Context, sub crypto.Subaccount) (*SubaccountInfo, error) {
	data, err := g.Query(ctx, "subaccount_info", map[string]string{"subaccount": sub.Hex()})
	if err != nil {
		return nil, err
	}
	var info SubaccountInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode subaccount info: %w", err)
	}
	return &info, nil
}

// Orderbook fetches market depth for a product. Pass-through: no local state.
func (g *Gateway) Orderbook(ctx context.Context, productID uint32, depth int) (*Orderbook, error) {
	data, err := g.Query(ctx, "market_liquidity", map[string]any{
		"product_id": productID,
		"depth":      depth,
	})
	if err != nil {
		return nil, err
	}

	var wire struct {
		Bids [][2]string `json:"bids"` // [price_x18, size_x18]
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode orderbook: %w", err)
	}

	book := &Orderbook{ProductID: productID}
	decode := func(levels [][2]string) ([]PriceLevel, error) {
		out := make([]PriceLevel, 0, len(levels))
		for _, lvl := range levels {
			price, err := ParseX18(lvl[0])
			if err != nil {
				return nil, err
			}
			size, err := ParseX18(lvl[1])
			if err != nil {
				return nil, err
			}
			out = append(out, PriceLevel{
				Price: fixedpoint.FromX18(price),
				Size:  fixedpoint.FromX18(size),
			})
		}
		return out, nil
	}
	var derr error
	if book.Bids, derr = decode(wire.Bids); derr != nil {
		return nil, fmt.Errorf("failed to decode bids: %w", derr)
	}
	if book.Asks, derr = decode(wire.Asks); derr != nil {
		return nil, fmt.Errorf("failed to decode asks: %w", derr)
	}
	return book, nil
}

// OpenOrders queries the indexer for resting orders, optionally by product.
// Used by reconciliation to resolve orders whose submission outcome was lost.
func (g *Gateway) OpenOrders(ctx context.Context, sub crypto.Subaccount, productID *uint32) ([]OpenOrderJSON, error) {
	params := map[string]any{"subaccount": sub.Hex()}
	if productID != nil {
		params["product_id"] = *productID
	}
	data, err := g.Query(ctx, "subaccount_orders", params)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Orders []OpenOrderJSON `json:"orders"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return wire.Orders, nil
}
