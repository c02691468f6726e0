// Package storage persists the client's session-critical state: per-subaccount
// nonce counters (so restarts never reuse a nonce) and an audit archive of
// terminal order records.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
)

// OrderRecord is the archived form of a tracked order. Numeric x18 fields are
// decimal strings so the JSON survives any integer width.
type OrderRecord struct {
	Digest      common.Hash `json:"digest"`
	ProductID   uint32      `json:"product_id"`
	Side        string      `json:"side"`
	PriceX18    string      `json:"price_x18"`
	AmountX18   string      `json:"amount_x18"`
	FilledX18   string      `json:"filled_x18"`
	State       string      `json:"state"`
	Reason      string      `json:"reason,omitempty"`
	Attempts    int         `json:"attempts"`
	SubmittedAt time.Time   `json:"submitted_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveNonce persists the latest issued nonce for a subaccount.
// Written synchronously: losing this write could replay a nonce after crash.
func (s *Store) SaveNonce(sub crypto.Subaccount, nonce uint64) error {
	if err := s.db.Set(nonceKey(sub), encodeNonce(nonce), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// LoadNonce returns the last persisted nonce for a subaccount.
// Returns (0, false, nil) when none has been issued.
func (s *Store) LoadNonce(sub crypto.Subaccount) (uint64, bool, error) {
	val, closer, err := s.db.Get(nonceKey(sub))
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load nonce: %w", err)
	}
	defer closer.Close()
	return decodeNonce(val), true, nil
}

// SaveRecord archives a terminal order record.
func (s *Store) SaveRecord(rec *OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.db.Set(recordKey(rec.Digest), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// LoadRecord returns an archived record, or nil if the digest is unknown.
func (s *Store) LoadRecord(digest common.Hash) (*OrderRecord, error) {
	val, closer, err := s.db.Get(recordKey(digest))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	defer closer.Close()

	var rec OrderRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// ListRecords returns all archived records, newest last by update time not
// guaranteed; callers sort if they care.
func (s *Store) ListRecords() ([]*OrderRecord, error) {
	prefix := []byte(prefixRecord)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	defer iter.Close()

	var records []*OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec OrderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip invalid entries
		}
		records = append(records, &rec)
	}
	return records, nil
}
