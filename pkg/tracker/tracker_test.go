package tracker

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nadotrader/pkg/order"
	"github.com/uhyunpark/nadotrader/pkg/storage"
	"github.com/uhyunpark/nadotrader/pkg/util"
)

func digestOf(b byte) common.Hash {
	var d common.Hash
	d[0] = b
	return d
}

func newTestTracker(clock util.Clock) *Tracker {
	return New(30*time.Second, time.Hour, nil, clock, nil)
}

func registerOrder(t *Tracker, d common.Hash, productID uint32) Record {
	price, _ := new(big.Int).SetString("45000000000000000000000", 10)
	amount, _ := new(big.Int).SetString("100000000000000000", 10) // 0.1 buy
	return t.Register(d, productID, order.Buy, price, amount)
}

func TestLifecycle_PlaceOpenFill(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(1)

	rec := registerOrder(tr, d, 2)
	assert.Equal(t, Pending, rec.State)

	tr.MarkOpen(d, 1)
	rec, ok := tr.Get(d)
	require.True(t, ok)
	assert.Equal(t, Open, rec.State)

	// Full fill.
	filled, _ := new(big.Int).SetString("100000000000000000", 10)
	tr.Apply(Event{Type: EventFill, Digest: d, FilledX18: filled})
	rec, _ = tr.Get(d)
	assert.Equal(t, Filled, rec.State)
	assert.Zero(t, rec.FilledX18.Cmp(filled))

	// Terminal: later events are ignored, not an error.
	tr.Apply(Event{Type: EventCancel, Digest: d})
	rec, _ = tr.Get(d)
	assert.Equal(t, Filled, rec.State)
}

func TestLifecycle_PartialThenCancel(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(2)
	registerOrder(tr, d, 2)
	tr.MarkOpen(d, 1)

	part, _ := new(big.Int).SetString("40000000000000000", 10) // 0.04 of 0.1
	tr.Apply(Event{Type: EventFill, Digest: d, FilledX18: part})
	rec, _ := tr.Get(d)
	assert.Equal(t, PartiallyFilled, rec.State)

	// A stale cumulative fill snapshot must not regress the fill size.
	stale, _ := new(big.Int).SetString("10000000000000000", 10)
	tr.Apply(Event{Type: EventFill, Digest: d, FilledX18: stale})
	rec, _ = tr.Get(d)
	assert.Zero(t, rec.FilledX18.Cmp(part))

	tr.Apply(Event{Type: EventCancel, Digest: d})
	rec, _ = tr.Get(d)
	assert.Equal(t, Cancelled, rec.State)
	assert.Zero(t, rec.FilledX18.Cmp(part), "partial fill accounting survives cancellation")
}

func TestLifecycle_Rejection(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(3)
	registerOrder(tr, d, 2)

	tr.MarkRejected(d, "insufficient_collateral", 1)
	rec, _ := tr.Get(d)
	assert.Equal(t, Rejected, rec.State)
	assert.Equal(t, "insufficient_collateral", rec.Reason)

	// MarkOpen afterwards is a late ack for a settled order; ignored.
	tr.MarkOpen(d, 1)
	rec, _ = tr.Get(d)
	assert.Equal(t, Rejected, rec.State)
}

func TestLifecycle_RejectAfterPartialFillIgnored(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(8)
	registerOrder(tr, d, 2)
	tr.MarkOpen(d, 1)

	part, _ := new(big.Int).SetString("40000000000000000", 10)
	tr.Apply(Event{Type: EventFill, Digest: d, FilledX18: part})

	// An execution already happened; a later reject cannot undo it.
	tr.Apply(Event{Type: EventReject, Digest: d, Reason: "late reject"})
	rec, _ := tr.Get(d)
	assert.Equal(t, PartiallyFilled, rec.State)
	assert.Zero(t, rec.FilledX18.Cmp(part))
	assert.Empty(t, rec.Reason)

	// A reject while Pending or Open is still honored.
	d2 := digestOf(9)
	registerOrder(tr, d2, 2)
	tr.Apply(Event{Type: EventReject, Digest: d2, Reason: "bad order"})
	rec2, _ := tr.Get(d2)
	assert.Equal(t, Rejected, rec2.State)
	assert.Equal(t, "bad order", rec2.Reason)
}

func TestOutOfOrder_FillBeforeRegister(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(4)

	// Fill event arrives before the Pending record exists.
	filled, _ := new(big.Int).SetString("100000000000000000", 10)
	tr.Apply(Event{Type: EventFill, Digest: d, FilledX18: filled})

	_, ok := tr.Get(d)
	require.False(t, ok, "event alone must not create a record")

	// Registration drains the buffer; final state is correct.
	registerOrder(tr, d, 2)
	rec, ok := tr.Get(d)
	require.True(t, ok)
	assert.Equal(t, Filled, rec.State)

	// Late ack from the dispatcher does not reopen the order.
	tr.MarkOpen(d, 1)
	rec, _ = tr.Get(d)
	assert.Equal(t, Filled, rec.State)
}

func TestOutOfOrder_BufferExpiresAfterGrace(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(5)

	filled := big.NewInt(1)
	tr.Apply(Event{Type: EventFill, Digest: d, FilledX18: filled})

	clock.Advance(31 * time.Second)
	tr.Sweep()

	// The record registered after expiry sees no buffered event.
	registerOrder(tr, d, 2)
	rec, _ := tr.Get(d)
	assert.Equal(t, Pending, rec.State)
}

func TestOpenOrders_FilterAndOrder(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)

	registerOrder(tr, digestOf(1), 2)
	clock.Advance(time.Second)
	registerOrder(tr, digestOf(2), 4)
	clock.Advance(time.Second)
	registerOrder(tr, digestOf(3), 2)
	tr.MarkOpen(digestOf(1), 1)
	tr.MarkRejected(digestOf(3), "bad", 1)

	all := tr.OpenOrders(nil)
	require.Len(t, all, 2, "terminal records are excluded")
	assert.True(t, all[0].SubmittedAt.Before(all[1].SubmittedAt) || all[0].SubmittedAt.Equal(all[1].SubmittedAt))

	btc := uint32(2)
	filtered := tr.OpenOrders(&btc)
	require.Len(t, filtered, 1)
	assert.Equal(t, digestOf(1), filtered[0].Digest)
}

func TestPendingOlderThan(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)

	registerOrder(tr, digestOf(1), 2)
	clock.Advance(20 * time.Second)
	registerOrder(tr, digestOf(2), 2)

	stuck := tr.PendingOlderThan(10 * time.Second)
	require.Len(t, stuck, 1)
	assert.Equal(t, digestOf(1), stuck[0].Digest)
}

type memArchive struct{ records []*storage.OrderRecord }

func (a *memArchive) SaveRecord(rec *storage.OrderRecord) error {
	a.records = append(a.records, rec)
	return nil
}

func TestSweep_ArchivesTerminalAfterRetention(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	archive := &memArchive{}
	tr := New(30*time.Second, time.Hour, archive, clock, nil)

	d := digestOf(6)
	registerOrder(tr, d, 2)
	tr.MarkRejected(d, "bad", 1)

	tr.Sweep()
	_, ok := tr.Get(d)
	assert.True(t, ok, "terminal record stays within retention")

	clock.Advance(2 * time.Hour)
	tr.Sweep()
	_, ok = tr.Get(d)
	assert.False(t, ok, "terminal record evicted after retention")
	require.Len(t, archive.records, 1)
	assert.Equal(t, "rejected", archive.records[0].State)
	assert.Equal(t, d, archive.records[0].Digest)
}

func TestSnapshot_IsolatedFromInternalState(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	tr := newTestTracker(clock)
	d := digestOf(7)
	registerOrder(tr, d, 2)

	rec, _ := tr.Get(d)
	rec.FilledX18.SetInt64(999) // mutating the snapshot

	again, _ := tr.Get(d)
	assert.Zero(t, again.FilledX18.Sign(), "snapshots must not alias tracker state")
}
