// Package nonce issues strictly increasing nonces per subaccount. A nonce is
// never reused within a subaccount's lifetime: counters are seeded above both
// the persisted high-water mark and the current microsecond timestamp, and
// every issue is persisted before it is handed out.
package nonce

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
	"github.com/uhyunpark/nadotrader/pkg/util"
)

// Persistence is the durable counter surface (implemented by storage.Store).
type Persistence interface {
	SaveNonce(sub crypto.Subaccount, nonce uint64) error
	LoadNonce(sub crypto.Subaccount) (uint64, bool, error)
}

// Manager is the sole mutation point for nonce state. All issuance is
// serialized under one mutex; concurrent builders never observe or reuse
// the same value.
type Manager struct {
	mu       sync.Mutex
	counters map[crypto.Subaccount]uint64
	store    Persistence // nil disables durability
	clock    util.Clock
}

func NewManager(store Persistence, clock util.Clock) *Manager {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Manager{
		counters: make(map[crypto.Subaccount]uint64),
		store:    store,
		clock:    clock,
	}
}

// Next returns the next nonce for the subaccount.
func (m *Manager) Next(sub crypto.Subaccount) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.counters[sub]
	if !ok {
		seed, err := m.seedLocked(sub)
		if err != nil {
			return 0, err
		}
		current = seed
	}

	next := current + 1

	// Persist before returning: a crash between issue and persist must not
	// allow the counter to move backwards on restart.
	if m.store != nil {
		if err := m.store.SaveNonce(sub, next); err != nil {
			return 0, fmt.Errorf("nonce persist failed: %w", err)
		}
	}

	m.counters[sub] = next
	return next, nil
}

// seedLocked computes the starting counter for a subaccount seen for the
// first time this session: max(persisted, unix-micros). The timestamp floor
// covers stores that lagged a crash, matching the exchange convention of
// microsecond-timestamp nonces.
func (m *Manager) seedLocked(sub crypto.Subaccount) (uint64, error) {
	seed := uint64(m.clock.Now().UnixMicro())
	if m.store != nil {
		persisted, ok, err := m.store.LoadNonce(sub)
		if err != nil {
			return 0, fmt.Errorf("nonce load failed: %w", err)
		}
		if ok && persisted > seed {
			seed = persisted
		}
	}
	return seed, nil
}

// Current returns the last issued nonce without consuming one.
// Zero means nothing has been issued this session.
func (m *Manager) Current(sub crypto.Subaccount) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[sub]
}
