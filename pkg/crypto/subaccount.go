package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// MaxSubaccountName is the longest subaccount name the wire format can carry:
// the 32-byte sender field is owner address (20 bytes) followed by the name
// padded with zero bytes (12 bytes).
const MaxSubaccountName = 12

// Subaccount is the exchange's 32-byte account identifier.
type Subaccount [32]byte

// NewSubaccount packs an owner address and subaccount name into the 32-byte
// wire identifier.
func NewSubaccount(owner common.Address, name string) (Subaccount, error) {
	if len(name) > MaxSubaccountName {
		return Subaccount{}, fmt.Errorf("subaccount name %q exceeds %d bytes", name, MaxSubaccountName)
	}
	var sub Subaccount
	copy(sub[:20], owner[:])
	copy(sub[20:], name)
	return sub, nil
}

// Owner returns the address portion of the identifier.
func (s Subaccount) Owner() common.Address {
	var addr common.Address
	copy(addr[:], s[:20])
	return addr
}

// Name returns the subaccount name with zero padding stripped.
func (s Subaccount) Name() string {
	name := s[20:]
	end := len(name)
	for end > 0 && name[end-1] == 0 {
		end--
	}
	return string(name[:end])
}

// Hex returns the 0x-prefixed hex form used by the gateway and indexer.
func (s Subaccount) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Subaccount) String() string { return s.Hex() }

// ChecksumAddress computes the EIP-55 checksummed hex string for a 20-byte
// address. Used for display and logs only; wire formats use lowercase hex.
func ChecksumAddress(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		// Uppercase when the corresponding nibble of the hash is >= 8.
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[2+i] = c - ('a' - 'A')
		} else {
			out[2+i] = c
		}
	}
	return string(out)
}
