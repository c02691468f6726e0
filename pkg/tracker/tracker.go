// Package tracker reconciles locally-issued orders against exchange-reported
// lifecycle events. Records are independent once created; the tracker is the
// single writer for each.
package tracker

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nadotrader/pkg/order"
	"github.com/uhyunpark/nadotrader/pkg/storage"
	"github.com/uhyunpark/nadotrader/pkg/util"
)

// Archive receives terminal records evicted after the retention window.
// Implemented by storage.Store; nil disables archival.
type Archive interface {
	SaveRecord(rec *storage.OrderRecord) error
}

type bufferedEvent struct {
	event    Event
	deadline time.Time
}

type Tracker struct {
	mu      sync.RWMutex
	records map[common.Hash]*Record
	// buffered holds events that arrived before their record existed, for
	// at most the grace period. Delivery races are expected, not errors.
	buffered  map[common.Hash][]bufferedEvent
	grace     time.Duration
	retention time.Duration
	archive   Archive
	clock     util.Clock
	log       *zap.Logger
}

func New(grace, retention time.Duration, archive Archive, clock util.Clock, log *zap.Logger) *Tracker {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		records:   make(map[common.Hash]*Record),
		buffered:  make(map[common.Hash][]bufferedEvent),
		grace:     grace,
		retention: retention,
		archive:   archive,
		clock:     clock,
		log:       log,
	}
}

// Register creates the Pending record for a freshly signed order and applies
// any events that beat the registration.
func (t *Tracker) Register(digest common.Hash, productID uint32, side order.Side, priceX18, amountX18 *big.Int) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	rec, exists := t.records[digest]
	if !exists {
		rec = &Record{
			Digest:      digest,
			ProductID:   productID,
			Side:        side,
			PriceX18:    new(big.Int).Set(priceX18),
			AmountX18:   new(big.Int).Set(amountX18),
			FilledX18:   new(big.Int),
			State:       Pending,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		t.records[digest] = rec
	}

	for _, be := range t.buffered[digest] {
		t.applyLocked(rec, be.event)
	}
	delete(t.buffered, digest)

	return rec.snapshot()
}

// MarkOpen records the dispatcher's accept acknowledgement. A no-op when a
// fill or cancel event already moved the record past Open.
func (t *Tracker) MarkOpen(digest common.Hash, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[digest]
	if !ok {
		return
	}
	rec.Attempts = attempts
	if rec.State != Pending {
		return
	}
	rec.State = Open
	rec.UpdatedAt = t.clock.Now()
}

// MarkRejected records a terminal submission failure (exchange rejection or
// exhausted retries resolved as rejected by reconciliation).
func (t *Tracker) MarkRejected(digest common.Hash, reason string, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[digest]
	if !ok {
		return
	}
	if rec.State.Terminal() {
		return
	}
	rec.State = Rejected
	rec.Reason = reason
	rec.Attempts = attempts
	rec.UpdatedAt = t.clock.Now()
}

// Apply consumes one exchange event. Events for unknown digests are buffered
// for the grace period; events for terminal records are logged and dropped.
// Apply never returns an error: unmatched events are eventual-consistency
// noise, not request failures.
func (t *Tracker) Apply(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[ev.Digest]
	if !ok {
		t.buffered[ev.Digest] = append(t.buffered[ev.Digest], bufferedEvent{
			event:    ev,
			deadline: t.clock.Now().Add(t.grace),
		})
		return
	}
	t.applyLocked(rec, ev)
}

func (t *Tracker) applyLocked(rec *Record, ev Event) {
	if rec.State.Terminal() {
		t.log.Info("event for terminal order ignored",
			zap.String("digest", rec.Digest.Hex()),
			zap.String("state", rec.State.String()))
		return
	}

	switch ev.Type {
	case EventFill:
		if ev.FilledX18 == nil {
			return
		}
		// Cumulative fills only move forward; a stale snapshot is dropped.
		if ev.FilledX18.Cmp(rec.FilledX18) <= 0 {
			return
		}
		rec.FilledX18.Set(ev.FilledX18)
		if rec.FilledX18.CmpAbs(rec.AmountX18) >= 0 {
			rec.State = Filled
		} else {
			rec.State = PartiallyFilled
		}
	case EventCancel:
		rec.State = Cancelled
		rec.Reason = ev.Reason
	case EventReject:
		// A rejection cannot follow an execution; fills already happened.
		if rec.State == PartiallyFilled {
			t.log.Info("reject event for partially filled order ignored",
				zap.String("digest", rec.Digest.Hex()))
			return
		}
		rec.State = Rejected
		rec.Reason = ev.Reason
	}
	rec.UpdatedAt = t.clock.Now()
}

// Get returns a snapshot of the record for a digest.
func (t *Tracker) Get(digest common.Hash) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[digest]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// OpenOrders returns snapshots of non-terminal records, optionally filtered
// by product, ordered by submission time. Read-only; never blocks on I/O.
func (t *Tracker) OpenOrders(productID *uint32) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, rec := range t.records {
		if rec.State.Terminal() {
			continue
		}
		if productID != nil && rec.ProductID != *productID {
			continue
		}
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// PendingOlderThan returns Pending records whose submission predates the
// cutoff. The reconciler uses this to resolve outcomes lost to timeouts.
func (t *Tracker) PendingOlderThan(age time.Duration) []Record {
	cutoff := t.clock.Now().Add(-age)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, rec := range t.records {
		if rec.State == Pending && rec.SubmittedAt.Before(cutoff) {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Sweep drops buffered events past their grace deadline and archives
// terminal records past the retention window. Called periodically by the
// owning session.
func (t *Tracker) Sweep() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	for digest, events := range t.buffered {
		kept := events[:0]
		for _, be := range events {
			if be.deadline.After(now) {
				kept = append(kept, be)
			} else {
				t.log.Info("dropping unmatched event after grace period",
					zap.String("digest", digest.Hex()))
			}
		}
		if len(kept) == 0 {
			delete(t.buffered, digest)
		} else {
			t.buffered[digest] = kept
		}
	}

	for digest, rec := range t.records {
		if !rec.State.Terminal() || now.Sub(rec.UpdatedAt) < t.retention {
			continue
		}
		if t.archive != nil {
			if err := t.archive.SaveRecord(rec.archived()); err != nil {
				t.log.Warn("failed to archive order record",
					zap.String("digest", digest.Hex()), zap.Error(err))
				continue // keep it; retry next sweep
			}
		}
		delete(t.records, digest)
	}
}
