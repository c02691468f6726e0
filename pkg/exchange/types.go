// Package exchange implements the transport capabilities the client core
// consumes: a JSON gateway for execute/query round-trips and a websocket
// stream of order lifecycle events.
package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RejectError is a terminal, exchange-side refusal carrying the engine's
// verbatim reason. Satisfies the dispatcher's Rejection contract, so it is
// never retried.
type RejectError struct {
	Code   int
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("exchange rejected (%d): %s", e.Code, e.Reason)
}

func (e *RejectError) RejectionReason() string { return e.Reason }

// envelope is the gateway's uniform response wrapper.
type envelope struct {
	Status    string          `json:"status"` // "success" or "failure"
	Error     string          `json:"error,omitempty"`
	ErrorCode int             `json:"error_code,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ProductJSON is the catalog entry wire shape.
type ProductJSON struct {
	ProductID      uint32 `json:"product_id"`
	Symbol         string `json:"symbol"`
	PriceDecimals  int32  `json:"price_decimals"`
	SizeDecimals   int32  `json:"size_decimals"`
	OraclePriceX18 string `json:"oracle_price_x18"`
}

// BalanceJSON is one subaccount balance entry. Perpetual positions are
// balances with non-zero amounts on perp products.
type BalanceJSON struct {
	ProductID        uint32 `json:"product_id"`
	AmountX18        string `json:"amount_x18"`
	EntryPriceX18    string `json:"entry_price_x18,omitempty"`
	UnrealizedPnlX18 string `json:"unrealized_pnl_x18,omitempty"`
}

// SubaccountInfo is the account summary returned by the gateway.
type SubaccountInfo struct {
	Subaccount string        `json:"subaccount"`
	HealthX18  string        `json:"health_x18"`
	Balances   []BalanceJSON `json:"balances"`
}

// PriceLevel is one orderbook level, decoded into decimals for callers.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook is a pass-through market depth snapshot.
type Orderbook struct {
	ProductID uint32
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// OpenOrderJSON is the indexer's view of one resting order.
type OpenOrderJSON struct {
	Digest    string `json:"digest"`
	ProductID uint32 `json:"product_id"`
	PriceX18  string `json:"price_x18"`
	AmountX18 string `json:"amount_x18"`
	FilledX18 string `json:"filled_x18"`
	Status    string `json:"status"`
}

// StreamEvent is one lifecycle notification from the event stream.
// Arrival order is not guaranteed relative to submission acknowledgements.
type StreamEvent struct {
	Type      string `json:"type"` // "fill", "cancel", "reject"
	Digest    string `json:"digest"`
	FilledX18 string `json:"filled_x18,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ParsedDigest returns the event digest as a hash.
func (e *StreamEvent) ParsedDigest() (common.Hash, error) {
	if len(e.Digest) != 2+64 {
		return common.Hash{}, fmt.Errorf("bad digest %q", e.Digest)
	}
	return common.HexToHash(e.Digest), nil
}

// ParseX18 decodes a decimal-string x18 value. Empty means zero.
func ParseX18(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad x18 value %q", s)
	}
	return v, nil
}
