package crypto

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testDomain() EIP712Domain {
	return Domain(big.NewInt(57073), common.Address{})
}

func testOrder(t *testing.T, signer *Signer, nonce uint64) *OrderEIP712 {
	t.Helper()
	sub, err := NewSubaccount(signer.Address(), "default")
	if err != nil {
		t.Fatalf("NewSubaccount: %v", err)
	}
	price, _ := new(big.Int).SetString("45000000000000000000000", 10) // 45000 x18
	amount, _ := new(big.Int).SetString("100000000000000000", 10)    // 0.1 x18
	return &OrderEIP712{
		Sender:     sub,
		ProductID:  2,
		PriceX18:   price,
		Amount:     amount,
		Expiration: 1700000000,
		Nonce:      nonce,
		Appendix:   big.NewInt(1),
	}
}

func TestOrderDigest_Deterministic(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	e := NewEIP712Signer(testDomain())

	d1, err := e.OrderDigest(testOrder(t, signer, 7))
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}
	d2, err := e.OrderDigest(testOrder(t, signer, 7))
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}
	if d1 != d2 {
		t.Errorf("same canonical order produced different digests: %s vs %s", d1, d2)
	}
}

func TestOrderDigest_FieldSensitivity(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	e := NewEIP712Signer(testDomain())

	base, err := e.OrderDigest(testOrder(t, signer, 7))
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*OrderEIP712)
	}{
		{"nonce", func(o *OrderEIP712) { o.Nonce = 8 }},
		{"product", func(o *OrderEIP712) { o.ProductID = 4 }},
		{"price", func(o *OrderEIP712) { o.PriceX18 = new(big.Int).Add(o.PriceX18, big.NewInt(1)) }},
		{"side via amount sign", func(o *OrderEIP712) { o.Amount = new(big.Int).Neg(o.Amount) }},
		{"size", func(o *OrderEIP712) { o.Amount = new(big.Int).Add(o.Amount, big.NewInt(1)) }},
		{"expiration", func(o *OrderEIP712) { o.Expiration++ }},
		{"appendix", func(o *OrderEIP712) { o.Appendix = big.NewInt(2) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder(t, signer, 7)
			tt.mutate(o)
			got, err := e.OrderDigest(o)
			if err != nil {
				t.Fatalf("OrderDigest: %v", err)
			}
			if got == base {
				t.Errorf("changing %s did not change the digest", tt.name)
			}
		})
	}
}

func TestSignOrder_VerifyRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	e := NewEIP712Signer(testDomain())
	order := testOrder(t, signer, 1)

	digest, sig, err := e.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	ok, err := e.VerifyOrderSignature(order, sig)
	if err != nil {
		t.Fatalf("VerifyOrderSignature: %v", err)
	}
	if !ok {
		t.Error("signature did not verify against order owner")
	}
	if !VerifySignature(signer.Address(), digest.Bytes(), sig) {
		t.Error("VerifySignature rejected a valid signature")
	}

	// A different key must not verify.
	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if VerifySignature(other.Address(), digest.Bytes(), sig) {
		t.Error("signature verified against the wrong address")
	}
}

func TestFromPrivateKeyHex_Malformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"0x only", "0x"},
		{"not hex", "zzzz"},
		{"too short", "0xabcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromPrivateKeyHex(tt.key)
			var serr *SigningError
			if !errors.As(err, &serr) {
				t.Fatalf("FromPrivateKeyHex(%q) = %v, want SigningError", tt.key, err)
			}
		})
	}
}

func TestSubaccount_PackUnpack(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	sub, err := NewSubaccount(addr, "default")
	if err != nil {
		t.Fatalf("NewSubaccount: %v", err)
	}
	if sub.Owner() != addr {
		t.Errorf("Owner() = %s, want %s", sub.Owner().Hex(), addr.Hex())
	}
	if sub.Name() != "default" {
		t.Errorf("Name() = %q, want %q", sub.Name(), "default")
	}
	if len(sub.Hex()) != 2+64 {
		t.Errorf("Hex() length = %d, want 66", len(sub.Hex()))
	}

	if _, err := NewSubaccount(addr, "longer-than-twelve"); err == nil {
		t.Error("expected error for name longer than 12 bytes")
	}
}

func TestChecksumAddress(t *testing.T) {
	// EIP-55 reference vectors.
	tests := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range tests {
		addr := common.HexToAddress(want)
		if got := ChecksumAddress(addr[:]); got != want {
			t.Errorf("ChecksumAddress(%s) = %s, want %s", want, got, want)
		}
	}
}
