// Package order turns human order intents into the canonical, signable
// representation the exchange engine accepts.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// TimeInForce governs how unmatched quantity is handled.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

// Product describes a listed perpetual. Immutable once loaded from the
// catalog; the catalog is refreshed on connect.
type Product struct {
	ID     uint32
	Symbol string
	// PriceDecimals and SizeDecimals are the product's display precision:
	// the most fractional digits a price or size may carry. The engine
	// itself always works in x18.
	PriceDecimals int32
	SizeDecimals  int32
	OraclePrice   decimal.Decimal
}

// Intent is a caller-facing order request. Size is always strictly positive;
// direction is carried by Side, never by sign.
type Intent struct {
	ProductID   uint32
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	TimeInForce TimeInForce
	PostOnly    bool
	ReduceOnly  bool
}

// ValidationError reports a malformed intent. Raised before signing;
// a request failing validation never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}
