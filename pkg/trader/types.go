package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
	"github.com/uhyunpark/nadotrader/pkg/exchange"
	"github.com/uhyunpark/nadotrader/pkg/order"
	"github.com/uhyunpark/nadotrader/pkg/tracker"
)

// ErrNotConnected is returned when an operation requires an active session.
var ErrNotConnected = errors.New("trader: not connected")

// ErrUnknownDigest is returned for cancellations referencing a digest the
// tracker does not know, or one already in a terminal state. Reported, not
// fatal: the caller's view was simply stale.
var ErrUnknownDigest = errors.New("trader: unknown or terminal digest")

// Transport is the gateway capability the trader drives. Implemented by
// exchange.Gateway; faked in tests.
type Transport interface {
	Send(ctx context.Context, method string, payload any) (json.RawMessage, error)
	Products(ctx context.Context) ([]order.Product, error)
	SubaccountInfo(ctx context.Context, sub crypto.Subaccount) (*exchange.SubaccountInfo, error)
	Orderbook(ctx context.Context, productID uint32, depth int) (*exchange.Orderbook, error)
	OpenOrders(ctx context.Context, sub crypto.Subaccount, productID *uint32) ([]exchange.OpenOrderJSON, error)
}

// EventSource is the lifecycle event feed. Implemented by exchange.Stream.
type EventSource interface {
	Start() error
	Events() <-chan exchange.StreamEvent
	Close() error
}

// PlaceResult is the synchronous answer to PlaceOrder. State is the order's
// lifecycle position at return time; Pending means the outcome is not yet
// definitive and reconciliation will resolve it.
type PlaceResult struct {
	Digest common.Hash
	State  tracker.State
}

// Position is a display view of one perpetual position, refreshed from
// exchange state.
type Position struct {
	ProductID     uint32
	Size          decimal.Decimal // signed: negative = short
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

// Balance is one subaccount balance entry.
type Balance struct {
	ProductID uint32
	Amount    decimal.Decimal
}

// AccountInfo summarizes the subaccount.
type AccountInfo struct {
	Subaccount string
	Health     decimal.Decimal
	Balances   []Balance
}

// orderWire is the gateway JSON shape of a signed order.
type orderWire struct {
	Sender     string `json:"sender"`
	ProductID  uint32 `json:"product_id"`
	PriceX18   string `json:"price_x18"`
	Amount     string `json:"amount"`
	Expiration uint64 `json:"expiration"`
	Nonce      uint64 `json:"nonce"`
	Appendix   string `json:"appendix"`
}

type placeOrderWire struct {
	Order     orderWire `json:"order"`
	Signature string    `json:"signature"`
	Digest    string    `json:"digest"`
}

type cancelWire struct {
	Sender     string   `json:"sender"`
	ProductIDs []uint32 `json:"product_ids"`
	Digests    []string `json:"digests,omitempty"`
	Nonce      uint64   `json:"nonce"`
	Signature  string   `json:"signature"`
}

func orderToWire(o *crypto.OrderEIP712, sig []byte, digest common.Hash) placeOrderWire {
	return placeOrderWire{
		Order: orderWire{
			Sender:     o.Sender.Hex(),
			ProductID:  o.ProductID,
			PriceX18:   o.PriceX18.String(),
			Amount:     o.Amount.String(),
			Expiration: o.Expiration,
			Nonce:      o.Nonce,
			Appendix:   o.Appendix.String(),
		},
		Signature: fmt.Sprintf("0x%x", sig),
		Digest:    digest.Hex(),
	}
}
