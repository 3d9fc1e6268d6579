// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB that backs a study.
//
// One database holds everything a study persists:
//
//	s/<seq>                  sample records (append-only, insertion ordered)
//	k/<problem>\x00<b>\x00<t> sample key index (idempotency)
//	t/<sample_ref>           annotation tasks
//	seq/<name>               badger sequences
//
// Each study (model × dataset) gets its own directory, so nothing in this
// package is scoped by model.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrPathRequired is returned when a persistent database has no path.
	ErrPathRequired = errors.New("path is required for persistent database")

	// ErrConflictRetriesExhausted is returned when a write transaction keeps
	// conflicting with concurrent writers.
	ErrConflictRetriesExhausted = errors.New("transaction conflict retries exhausted")
)

// Config holds configuration for a study database.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit. A crashed sweep must never lose a
	// sample that Record reported as stored, so this defaults to true.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before a value log rewrite.
	GCDiscardRatio float64

	// ConflictRetries bounds UpdateWithRetry attempts.
	ConflictRetries int
}

// DefaultConfig returns production defaults for a study at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		GCInterval:      10 * time.Minute,
		GCDiscardRatio:  0.5,
		ConflictRetries: 16,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory:        true,
		ConflictRetries: 16,
	}
}

// slogAdapter routes BadgerDB's logger interface into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a BadgerDB instance with lifecycle management and transaction
// helpers shared by the sample and annotation stores.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB
	cfg    Config
	stopGC chan struct{}
	gcDone chan struct{}
}

// Open opens the study database described by cfg.
//
// Description:
//
//	Creates the directory when needed, opens BadgerDB with single-version
//	retention, and starts periodic value log GC when configured.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The opened database. Caller must call Close().
//	error - Non-nil if the path is invalid or the database cannot be opened.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrPathRequired
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 1
	}
	db := &DB{DB: bdb, cfg: cfg}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.stopGC = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.runGC()
	}
	return db, nil
}

// OpenInMemory opens an in-memory database. Data is lost on Close.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) runGC() {
	defer close(d.gcDone)

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			err := d.DB.RunValueLogGC(d.cfg.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && d.cfg.Logger != nil {
				d.cfg.Logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.gcDone
		d.stopGC = nil
	}
	return d.DB.Close()
}

// Path returns the database directory, or "" when in memory.
func (d *DB) Path() string {
	if d.cfg.InMemory {
		return ""
	}
	return d.cfg.Path
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// UpdateWithRetry runs fn in a read-write transaction and commits it,
// retrying when the commit conflicts with a concurrent writer.
//
// Description:
//
//	fn is re-run from scratch on every attempt, so reads it performs see the
//	winner's writes. This is what turns a racing duplicate insert into a
//	visible duplicate on the retry rather than a silent overwrite.
//
// Outputs:
//
//	error - fn's error, ErrConflictRetriesExhausted, or a commit error.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) UpdateWithRetry(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < d.cfg.ConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		txn := d.DB.NewTransaction(true)
		if err := fn(txn); err != nil {
			txn.Discard()
			return err
		}
		err := txn.Commit()
		txn.Discard()
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return ErrConflictRetriesExhausted
}

// NextSequence returns the next value of the named monotonic sequence.
//
// Values are strictly increasing for the life of the database; a restart may
// leave gaps, never reorderings.
func (d *DB) NextSequence(seq *badger.Sequence) (uint64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return n, nil
}

// Sequence leases a named sequence with the given bandwidth.
// Caller must Release it before closing the database.
func (d *DB) Sequence(name string, bandwidth uint64) (*badger.Sequence, error) {
	seq, err := d.DB.GetSequence([]byte("seq/"+name), bandwidth)
	if err != nil {
		return nil, fmt.Errorf("get sequence %s: %w", name, err)
	}
	return seq, nil
}
