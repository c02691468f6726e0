package order

import (
	"math/big"
	"time"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
	"github.com/uhyunpark/nadotrader/pkg/fixedpoint"
	"github.com/uhyunpark/nadotrader/pkg/util"
)

// Expiration windows applied at canonicalization. Resting orders get a long
// horizon; immediate orders only need to survive submission latency.
const (
	gtcExpiry = 30 * 24 * time.Hour
	iocExpiry = 5 * time.Minute
)

// NonceSource issues the next nonce for a subaccount. Issuance is the
// builder's only side effect.
type NonceSource interface {
	Next(sub crypto.Subaccount) (uint64, error)
}

// Builder assembles canonical orders for one subaccount session.
type Builder struct {
	sub    crypto.Subaccount
	nonces NonceSource
	clock  util.Clock
}

func NewBuilder(sub crypto.Subaccount, nonces NonceSource, clock util.Clock) *Builder {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Builder{sub: sub, nonces: nonces, clock: clock}
}

// Build validates the intent against the product and assembles the signable
// canonical order, consuming one nonce. Validation failures surface as
// *ValidationError or *fixedpoint.PrecisionError before anything touches
// the network.
func (b *Builder) Build(intent Intent, product Product) (*crypto.OrderEIP712, error) {
	if err := validate(intent, product); err != nil {
		return nil, err
	}

	// Check the intent fits the product's display precision, then convert
	// to the engine's x18 form. Both reject excess digits; neither rounds.
	if _, err := fixedpoint.ToFixed(intent.Price, product.PriceDecimals); err != nil {
		return nil, err
	}
	if _, err := fixedpoint.ToFixed(intent.Size, product.SizeDecimals); err != nil {
		return nil, err
	}
	priceX18, err := fixedpoint.ToX18(intent.Price)
	if err != nil {
		return nil, err
	}
	sizeX18, err := fixedpoint.ToX18(intent.Size)
	if err != nil {
		return nil, err
	}

	// Wire convention: amount sign carries direction.
	amount := sizeX18
	if intent.Side == Sell {
		amount = new(big.Int).Neg(sizeX18)
	}

	nonce, err := b.nonces.Next(b.sub)
	if err != nil {
		return nil, err
	}

	expiry := iocExpiry
	if intent.TimeInForce == GTC {
		expiry = gtcExpiry
	}

	return &crypto.OrderEIP712{
		Sender:     b.sub,
		ProductID:  intent.ProductID,
		PriceX18:   priceX18,
		Amount:     amount,
		Expiration: uint64(b.clock.Now().Add(expiry).Unix()),
		Nonce:      nonce,
		Appendix:   packAppendix(intent.TimeInForce, intent.PostOnly, intent.ReduceOnly),
	}, nil
}

func validate(intent Intent, product Product) error {
	if intent.ProductID == 0 {
		return &ValidationError{Field: "product_id", Reason: "must be set"}
	}
	if intent.ProductID != product.ID {
		return &ValidationError{Field: "product_id", Reason: "does not match product"}
	}
	if intent.Side != Buy && intent.Side != Sell {
		return &ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	switch intent.TimeInForce {
	case GTC, IOC, FOK:
	default:
		return &ValidationError{Field: "time_in_force", Reason: "must be GTC, IOC or FOK"}
	}
	if intent.PostOnly && intent.TimeInForce != GTC {
		// A maker-only order that must execute immediately is a contradiction.
		return &ValidationError{Field: "post_only", Reason: "incompatible with " + string(intent.TimeInForce)}
	}
	if !intent.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "must be positive"}
	}
	if !intent.Size.IsPositive() {
		return &ValidationError{Field: "size", Reason: "must be positive; direction is the side field"}
	}
	// ReduceOnly interacts with position state at match time; that check is
	// the engine's, not ours. The flag is forwarded as-is.
	return nil
}
