package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToFixed_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		exponent int32
	}{
		{"integer", "45000", 18},
		{"fraction", "0.1", 18},
		{"full precision", "1.123456789012345678", 18},
		{"negative size", "-2.5", 18},
		{"zero", "0", 18},
		{"display precision", "1.20", 2},
		{"trailing zeros beyond exponent", "3.1400000", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decimal.RequireFromString(tt.value)
			fixed, err := ToFixed(d, tt.exponent)
			if err != nil {
				t.Fatalf("ToFixed(%s, %d) error: %v", tt.value, tt.exponent, err)
			}
			back := FromFixed(fixed, tt.exponent)
			if !back.Equal(d) {
				t.Errorf("round trip mismatch: %s -> %s -> %s", d, fixed, back)
			}
		})
	}
}

func TestToFixed_PrecisionRejected(t *testing.T) {
	tests := []struct {
		value    string
		exponent int32
	}{
		{"1.234", 2},
		{"0.0000000000000000001", 18}, // 19 fractional digits
		{"-0.001", 2},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			_, err := ToFixed(decimal.RequireFromString(tt.value), tt.exponent)
			var perr *PrecisionError
			if !errors.As(err, &perr) {
				t.Fatalf("ToFixed(%s, %d) = %v, want PrecisionError", tt.value, tt.exponent, err)
			}
		})
	}
}

func TestToFixed_NoSilentRounding(t *testing.T) {
	// "1.20" at exponent 2 is exactly representable: 120.
	got, err := ToFixed(decimal.RequireFromString("1.20"), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(120)) != 0 {
		t.Errorf("ToFixed(1.20, 2) = %s, want 120", got)
	}
}

func TestX18_Negative(t *testing.T) {
	fixed, err := ToX18(decimal.RequireFromString("-0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := new(big.Int).SetString("-500000000000000000", 10)
	if fixed.Cmp(want) != 0 {
		t.Errorf("ToX18(-0.5) = %s, want %s", fixed, want)
	}
	if !FromX18(fixed).Equal(decimal.RequireFromString("-0.5")) {
		t.Errorf("FromX18 round trip failed for negative value")
	}
}
