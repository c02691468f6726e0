package storage

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNonceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	sub, err := crypto.NewSubaccount(common.HexToAddress("0x1111111111111111111111111111111111111111"), "default")
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.LoadNonce(sub); err != nil || ok {
		t.Fatalf("expected no nonce, got ok=%v err=%v", ok, err)
	}

	if err := s.SaveNonce(sub, 1234567890); err != nil {
		t.Fatalf("save nonce: %v", err)
	}
	got, ok, err := s.LoadNonce(sub)
	if err != nil || !ok {
		t.Fatalf("load nonce: ok=%v err=%v", ok, err)
	}
	if got != 1234567890 {
		t.Fatalf("got %d, want 1234567890", got)
	}

	// Overwrite moves the counter forward.
	if err := s.SaveNonce(sub, 1234567891); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.LoadNonce(sub)
	if got != 1234567891 {
		t.Fatalf("got %d, want 1234567891", got)
	}
}

func TestNoncesIsolatedPerSubaccount(t *testing.T) {
	s := openTestStore(t)
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	a, _ := crypto.NewSubaccount(addr, "alpha")
	b, _ := crypto.NewSubaccount(addr, "beta")

	if err := s.SaveNonce(a, 100); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.LoadNonce(b); ok {
		t.Fatal("nonce leaked across subaccounts")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	digest := common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000001")
	rec := &OrderRecord{
		Digest:      digest,
		ProductID:   2,
		Side:        "sell",
		PriceX18:    "3000000000000000000000",
		AmountX18:   "-500000000000000000",
		FilledX18:   "500000000000000000",
		State:       "filled",
		Attempts:    1,
		SubmittedAt: time.Unix(1_700_000_000, 0).UTC(),
		UpdatedAt:   time.Unix(1_700_000_060, 0).UTC(),
	}
	if err := s.SaveRecord(rec); err != nil {
		t.Fatalf("save record: %v", err)
	}

	got, err := s.LoadRecord(digest)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if got == nil || got.Digest != digest || got.AmountX18 != rec.AmountX18 || got.State != "filled" {
		t.Fatalf("record mismatch: %+v", got)
	}

	missing, err := s.LoadRecord(common.HexToHash("0x02"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown digest, got %+v err=%v", missing, err)
	}
}

func TestListRecords(t *testing.T) {
	s := openTestStore(t)
	for i := byte(1); i <= 3; i++ {
		rec := &OrderRecord{
			Digest:    common.BytesToHash([]byte{i}),
			ProductID: uint32(i),
			Side:      "buy",
			PriceX18:  "1000000000000000000",
			AmountX18: "1000000000000000000",
			FilledX18: "0",
			State:     "cancelled",
		}
		if err := s.SaveRecord(rec); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.ListRecords()
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
}
