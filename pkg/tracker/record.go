package tracker

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nadotrader/pkg/order"
	"github.com/uhyunpark/nadotrader/pkg/storage"
)

// State is an order's lifecycle position.
//
//	Pending → {Open, Rejected}
//	Open → {PartiallyFilled, Filled, Cancelled, Rejected}
//	PartiallyFilled → {PartiallyFilled, Filled, Cancelled}
//
// Filled, Cancelled and Rejected are terminal. Fill and cancel events may
// outrun the submission acknowledgement, so fills are also accepted while
// Pending (the Open hop is implied).
type State int

const (
	Pending State = iota
	Open
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Record is the tracker-owned view of one order, keyed by digest.
type Record struct {
	Digest      common.Hash
	ProductID   uint32
	Side        order.Side
	PriceX18    *big.Int
	AmountX18   *big.Int // signed, wire convention
	FilledX18   *big.Int // cumulative, unsigned
	State       State
	Reason      string // exchange-supplied, rejections only
	Attempts    int
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// snapshot returns a copy safe to hand to callers.
func (r *Record) snapshot() Record {
	cp := *r
	if r.PriceX18 != nil {
		cp.PriceX18 = new(big.Int).Set(r.PriceX18)
	}
	if r.AmountX18 != nil {
		cp.AmountX18 = new(big.Int).Set(r.AmountX18)
	}
	if r.FilledX18 != nil {
		cp.FilledX18 = new(big.Int).Set(r.FilledX18)
	}
	return cp
}

func (r *Record) archived() *storage.OrderRecord {
	return &storage.OrderRecord{
		Digest:      r.Digest,
		ProductID:   r.ProductID,
		Side:        r.Side.String(),
		PriceX18:    r.PriceX18.String(),
		AmountX18:   r.AmountX18.String(),
		FilledX18:   r.FilledX18.String(),
		State:       r.State.String(),
		Reason:      r.Reason,
		Attempts:    r.Attempts,
		SubmittedAt: r.SubmittedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// EventType classifies asynchronous exchange notifications.
type EventType int

const (
	EventFill EventType = iota
	EventCancel
	EventReject
)

// Event is one exchange-reported lifecycle notification, matched to records
// by digest; arrival order carries no meaning.
type Event struct {
	Type EventType
	// Digest identifies the order.
	Digest common.Hash
	// FilledX18 is the cumulative filled size (unsigned) for fill events.
	FilledX18 *big.Int
	Reason    string
}
