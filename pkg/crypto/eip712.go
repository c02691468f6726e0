package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for the exchange's typed data.
// Prevents replay across chains and contract deployments.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// OrderEIP712 is the canonical order shape signed by the account owner.
// The struct hash of these fields (signature excluded) is the order digest:
// the exchange-visible identifier used for cancellation and tracking.
type OrderEIP712 struct {
	Sender     Subaccount // owner address ++ subaccount name
	ProductID  uint32
	PriceX18   *big.Int // limit price, x18, always positive
	Amount     *big.Int // size, x18, signed: positive = buy, negative = sell
	Expiration uint64   // Unix seconds
	Nonce      uint64
	Appendix   *big.Int // 128-bit packed order attributes
}

// CancelEIP712 is the signed cancellation instruction. Digests may be empty
// when cancelling every resting order on the listed products.
type CancelEIP712 struct {
	Sender     Subaccount
	ProductIDs []uint32
	Digests    []common.Hash
	Nonce      uint64
}

// EIP712Signer hashes and signs exchange instructions under a fixed domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// Domain for the given chain and verifier contract.
func Domain(chainID *big.Int, verifier common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "Nado",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: verifier,
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (e *EIP712Signer) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              e.domain.Name,
		Version:           e.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
		VerifyingContract: e.domain.VerifyingContract.Hex(),
	}
}

// hashTypedData computes keccak256("\x19\x01" || domainSeparator || structHash).
func (e *EIP712Signer) hashTypedData(typedData apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256Hash(rawData), nil
}

// OrderDigest hashes an order according to EIP-712. The digest is a pure
// function of the canonical fields: the same intent with the same nonce
// always yields the same digest, which is what makes dispatch-level retries
// idempotent.
func (e *EIP712Signer) OrderDigest(order *OrderEIP712) (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Order": []apitypes.Type{
				{Name: "sender", Type: "bytes32"},
				{Name: "productId", Type: "uint32"},
				{Name: "priceX18", Type: "int128"},
				{Name: "amount", Type: "int128"},
				{Name: "expiration", Type: "uint64"},
				{Name: "nonce", Type: "uint64"},
				{Name: "appendix", Type: "uint128"},
			},
		},
		PrimaryType: "Order",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"sender":     hexutil.Encode(order.Sender[:]),
			"productId":  fmt.Sprintf("%d", order.ProductID),
			"priceX18":   order.PriceX18.String(),
			"amount":     order.Amount.String(),
			"expiration": fmt.Sprintf("%d", order.Expiration),
			"nonce":      fmt.Sprintf("%d", order.Nonce),
			"appendix":   order.Appendix.String(),
		},
	}
	return e.hashTypedData(typedData)
}

// CancelDigest hashes a cancellation according to EIP-712.
func (e *EIP712Signer) CancelDigest(cancel *CancelEIP712) (common.Hash, error) {
	productIDs := make([]interface{}, len(cancel.ProductIDs))
	for i, id := range cancel.ProductIDs {
		productIDs[i] = fmt.Sprintf("%d", id)
	}
	digests := make([]interface{}, len(cancel.Digests))
	for i, d := range cancel.Digests {
		digests[i] = d.Hex()
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Cancellation": []apitypes.Type{
				{Name: "sender", Type: "bytes32"},
				{Name: "productIds", Type: "uint32[]"},
				{Name: "digests", Type: "bytes32[]"},
				{Name: "nonce", Type: "uint64"},
			},
		},
		PrimaryType: "Cancellation",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"sender":     hexutil.Encode(cancel.Sender[:]),
			"productIds": productIDs,
			"digests":    digests,
			"nonce":      fmt.Sprintf("%d", cancel.Nonce),
		},
	}
	return e.hashTypedData(typedData)
}

// SignOrder produces the digest and 65-byte signature for an order.
func (e *EIP712Signer) SignOrder(signer *Signer, order *OrderEIP712) (common.Hash, []byte, error) {
	digest, err := e.OrderDigest(order)
	if err != nil {
		return common.Hash{}, nil, &SigningError{Op: "hash order", Err: err}
	}
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return common.Hash{}, nil, err
	}
	return digest, sig, nil
}

// SignCancel produces the digest and signature for a cancellation.
func (e *EIP712Signer) SignCancel(signer *Signer, cancel *CancelEIP712) (common.Hash, []byte, error) {
	digest, err := e.CancelDigest(cancel)
	if err != nil {
		return common.Hash{}, nil, &SigningError{Op: "hash cancel", Err: err}
	}
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return common.Hash{}, nil, err
	}
	return digest, sig, nil
}

// VerifyOrderSignature checks a signature against the order's sender owner.
func (e *EIP712Signer) VerifyOrderSignature(order *OrderEIP712, signature []byte) (bool, error) {
	digest, err := e.OrderDigest(order)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest.Bytes(), signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == order.Sender.Owner(), nil
}
