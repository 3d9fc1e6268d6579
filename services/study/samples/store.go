// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package samples

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	studydb "github.com/AleutianAI/budgetcliff/services/study/storage/badger"
)

const (
	recordPrefix = "s/"
	indexPrefix  = "k/"
	sequenceName = "samples"

	// sequenceBandwidth is how many sequence numbers are leased at once.
	sequenceBandwidth = 100
)

// Reader is the read side of a sample store. Analysis code and the
// annotation workflow depend on this rather than on *Store.
type Reader interface {
	Has(ctx context.Context, problemID string, budget, trial int) (bool, error)
	Query(ctx context.Context, f Filter) iter.Seq2[Sample, error]
}

// Store is the BadgerDB-backed sample log.
//
// Records live under s/<seq> so iteration order is insertion order.
// Each record has an index entry under k/<problem>\x00<budget>\x00<trial>
// holding its sequence number; Record writes both in one transaction.
//
// Thread Safety: Safe for concurrent use. Concurrent writers of disjoint
// keys never lose records and writers of the same key see exactly one
// success.
type Store struct {
	db     *studydb.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a sample store over an open study database.
//
// Outputs:
//
//	*Store - The store. Caller must Close it before closing db.
//	error - Non-nil if the insertion sequence cannot be leased.
func NewStore(db *studydb.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	seq, err := db.Sequence(sequenceName, sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("sample store: %w", err)
	}
	s := &Store{db: db, seq: seq, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the leased sequence range.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		return fmt.Errorf("release sample sequence: %w", err)
	}
	return nil
}

func indexKey(problemID string, budget, trial int) []byte {
	var b strings.Builder
	b.WriteString(indexPrefix)
	b.WriteString(problemID)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(budget))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(trial))
	return []byte(b.String())
}

func parseIndexKey(raw []byte) (Key, error) {
	rest := strings.TrimPrefix(string(raw), indexPrefix)
	parts := strings.Split(rest, "\x00")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed index key %q", raw)
	}
	budget, err := strconv.Atoi(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("malformed budget in index key %q: %w", raw, err)
	}
	trial, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("malformed trial in index key %q: %w", raw, err)
	}
	return Key{ProblemID: parts[0], Budget: budget, TrialIndex: trial}, nil
}

func recordKey(n uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", recordPrefix, n)
}

// Record appends a sample.
//
// Description:
//
//	Validates the sample, then checks the index and writes the record and
//	its index entry in one transaction. A commit conflict with a concurrent
//	writer is retried, so a racing duplicate resolves to ErrDuplicateKey
//	instead of overwriting.
//
// Outputs:
//
//	error - *DuplicateKeyError (ErrDuplicateKey) when the key exists,
//	        ErrInvalidSample when the sample violates an invariant.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Record(ctx context.Context, sample Sample) error {
	if err := sample.Validate(); err != nil {
		recordRejected("invalid")
		return err
	}

	value, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample %s: %w", sample.Key(), err)
	}

	n, err := s.db.NextSequence(s.seq)
	if err != nil {
		return err
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], n)

	idx := indexKey(sample.ProblemID, sample.Budget, sample.TrialIndex)
	err = s.db.UpdateWithRetry(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(idx)
		if err == nil {
			return &DuplicateKeyError{Key: sample.Key()}
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check index: %w", err)
		}
		if err := txn.Set(idx, seqBytes[:]); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		if err := txn.Set(recordKey(n), value); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			recordRejected("duplicate")
			s.logger.Debug("duplicate sample rejected", slog.String("key", sample.Ref()))
			return err
		}
		return fmt.Errorf("record sample %s: %w", sample.Key(), err)
	}

	recordStored(sample.Budget, sample.Correct)
	return nil
}

// Has reports whether a sample with this key has been recorded.
// Producers call it before generating so a resumed run skips finished work.
func (s *Store) Has(ctx context.Context, problemID string, budget, trial int) (bool, error) {
	found := false
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(problemID, budget, trial))
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("has %s:%d:%d: %w", problemID, budget, trial, err)
	}
	return found, nil
}

// Query returns the matching samples in insertion order.
//
// Description:
//
//	The sequence is lazy and restartable: every range opens a fresh read
//	transaction and sees a consistent snapshot. Decoded samples are copies,
//	so callers may keep or modify them freely. Iteration stops at the first
//	error, which is yielded with a zero Sample.
func (s *Store) Query(ctx context.Context, f Filter) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(recordPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				var sample Sample
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &sample)
				})
				if err != nil {
					return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
				}
				if !f.Match(sample) {
					continue
				}
				if !yield(sample, nil) {
					return errStopIteration
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(Sample{}, fmt.Errorf("query samples: %w", err))
		}
	}
}

var errStopIteration = errors.New("stop iteration")

// keys iterates the index without touching record values.
func (s *Store) keys(ctx context.Context, fn func(Key)) error {
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(indexPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key, err := parseIndexKey(it.Item().Key())
			if err != nil {
				return err
			}
			fn(key)
		}
		return nil
	})
}

// Budgets returns the distinct recorded budgets in ascending order.
func (s *Store) Budgets(ctx context.Context) ([]int, error) {
	seen := make(map[int]struct{})
	if err := s.keys(ctx, func(k Key) { seen[k.Budget] = struct{}{} }); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]int, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	slices.Sort(out)
	return out, nil
}

// Count returns the number of recorded samples.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	if err := s.keys(ctx, func(Key) { n++ }); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

// Collect materializes a query.
func Collect(ctx context.Context, r Reader, f Filter) ([]Sample, error) {
	var out []Sample
	for sample, err := range r.Query(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, nil
}
