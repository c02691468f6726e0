package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
)

// Key schema:
//
//	nonce:<32-byte-subaccount>  → big-endian uint64 counter
//	rec:<32-byte-digest>        → archived order record (JSON)
const (
	prefixNonce  = "nonce:"
	prefixRecord = "rec:"
)

func nonceKey(sub crypto.Subaccount) []byte {
	return append([]byte(prefixNonce), sub[:]...)
}

func recordKey(digest common.Hash) []byte {
	return append([]byte(prefixRecord), digest[:]...)
}

func encodeNonce(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeNonce(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
