// Offline signing tool: builds a canonical order, signs it under the
// exchange's EIP-712 domain, and prints the digest, signature and wire JSON.
// Useful for verifying signature compatibility without touching the network.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/nadotrader/params"
	"github.com/uhyunpark/nadotrader/pkg/crypto"
	"github.com/uhyunpark/nadotrader/pkg/fixedpoint"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Use the configured key when present, otherwise generate a throwaway.
	var signer *crypto.Signer
	if cfg.PrivateKeyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(cfg.PrivateKeyHex)
		if err != nil {
			fmt.Printf("Error loading key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Using key from NADO_PRIVATE_KEY")
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Printf("Address: %s\n\n", signer.Address().Hex())

	sub, err := crypto.NewSubaccount(signer.Address(), cfg.SubaccountName)
	if err != nil {
		fmt.Printf("Error building subaccount: %v\n", err)
		os.Exit(1)
	}

	// Sample order: buy 0.5 on product 1 at 50000, GTC, x18 fixed point.
	order := &crypto.OrderEIP712{
		Sender:     sub,
		ProductID:  1,
		PriceX18:   mustX18("50000"),
		Amount:     mustX18("0.5"),
		Expiration: uint64(time.Now().Add(30 * 24 * time.Hour).Unix()),
		Nonce:      uint64(time.Now().UnixMicro()),
		Appendix:   big.NewInt(1), // version 1, resting limit order
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Sender: %s\n", sub.Hex())
	fmt.Printf("  Product: %d\n", order.ProductID)
	fmt.Printf("  PriceX18: %s\n", order.PriceX18.String())
	fmt.Printf("  Amount: %s\n", order.Amount.String())
	fmt.Printf("  Expiration: %d\n", order.Expiration)
	fmt.Printf("  Nonce: %d\n\n", order.Nonce)

	e712 := crypto.NewEIP712Signer(crypto.Domain(
		cfg.Endpoints.ChainID, common.HexToAddress(cfg.Endpoints.Verifier)))
	digest, signature, err := e712.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Digest: %s\n", digest.Hex())
	fmt.Printf("Signature: 0x%x\n\n", signature)

	wire := map[string]any{
		"place_order": map[string]any{
			"order": map[string]any{
				"sender":     sub.Hex(),
				"product_id": order.ProductID,
				"price_x18":  order.PriceX18.String(),
				"amount":     order.Amount.String(),
				"expiration": order.Expiration,
				"nonce":      order.Nonce,
				"appendix":   order.Appendix.String(),
			},
			"signature": fmt.Sprintf("0x%x", signature),
			"digest":    digest.Hex(),
		},
	}
	wireJSON, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Wire Payload (JSON):")
	fmt.Println(string(wireJSON))
	fmt.Println()

	fmt.Println("Verifying signature...")
	valid, err := e712.VerifyOrderSignature(order, signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if !valid {
		fmt.Println("Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("Signature VALID")
	fmt.Printf("  Domain: chain_id=%s verifier=%s\n", cfg.Endpoints.ChainID, cfg.Endpoints.Verifier)
	fmt.Printf("\nTo submit: POST %s/execute with the payload above.\n", cfg.Endpoints.GatewayURL)
}

// mustX18 scales a decimal string to x18 fixed point.
func mustX18(s string) *big.Int {
	v, err := fixedpoint.ToX18(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return v
}
