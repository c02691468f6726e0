package order

import "math/big"

// Appendix bit layout (128 bits), low to high:
//
//	| version | isolated | order type | reduce only | trigger | reserved | value |
//	| 7..0    | 8        | 10..9      | 11          | 13..12  | 63..14   | 127..64 |
const (
	appendixVersion = 1

	orderTypeDefault  = 0
	orderTypeIOC      = 1
	orderTypeFOK      = 2
	orderTypePostOnly = 3

	triggerNone = 0
)

// packAppendix encodes order attributes into the engine's 128-bit appendix.
// Cross margin only; trigger orders are not produced by this client.
func packAppendix(tif TimeInForce, postOnly, reduceOnly bool) *big.Int {
	orderType := orderTypeDefault
	switch {
	case postOnly:
		orderType = orderTypePostOnly
	case tif == IOC:
		orderType = orderTypeIOC
	case tif == FOK:
		orderType = orderTypeFOK
	}

	v := uint64(appendixVersion)
	v |= uint64(orderType) << 9
	if reduceOnly {
		v |= 1 << 11
	}
	v |= uint64(triggerNone) << 12

	return new(big.Int).SetUint64(v)
}

// appendixOrderType extracts the order-type bits. Used when rehydrating
// archived orders and in tests.
func appendixOrderType(appendix *big.Int) int {
	return int(appendix.Uint64() >> 9 & 0x3)
}

// appendixReduceOnly extracts the reduce-only bit.
func appendixReduceOnly(appendix *big.Int) bool {
	return appendix.Uint64()>>11&0x1 == 1
}
