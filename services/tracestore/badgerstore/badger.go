// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore wraps dgraph-io/badger/v4 with the transaction and
// garbage-collection helpers the trace store is built on.
package badgerstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aleutianai/debatearena/pkg/logging"
)

// Config configures a Badger-backed database.
type Config struct {
	// InMemory, when true, opens an in-memory database; Path is ignored.
	InMemory bool

	// Path is the on-disk directory for persistent mode. Required unless
	// InMemory is set.
	Path string

	// SyncWrites forces an fsync after every write transaction.
	SyncWrites bool

	// NumVersionsToKeep bounds how many historical versions of a key Badger
	// retains before compaction can drop them.
	NumVersionsToKeep int

	// GCInterval is how often a GCRunner started against this config should
	// run value-log garbage collection. Zero disables the runner.
	GCInterval time.Duration
}

// DefaultConfig returns the configuration for a persistent, durable store.
func DefaultConfig() Config {
	return Config{
		InMemory:          false,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
	}
}

// InMemoryConfig returns the configuration used by tests: volatile storage
// with GC disabled (there is no value log to collect).
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
		GCInterval:        0,
	}
}

// DB wraps a *badger.DB with context-aware transaction helpers. Update and
// View are promoted directly from the embedded *badger.DB.
type DB struct {
	*badger.DB
}

// Open opens a database per cfg. Persistent mode requires a non-empty Path.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("path is required for persistent mode")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &DB{DB: bdb}, nil
}

// OpenDB is an alias for Open, named for call sites that want to make clear
// they're constructing the managed wrapper rather than a raw *badger.DB.
func OpenDB(cfg Config) (*DB, error) {
	return Open(cfg)
}

// OpenInMemory opens a volatile database, convenient for tests.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// OpenWithPath opens a persistent database at path using DefaultConfig's
// other settings.
func OpenWithPath(path string) (*DB, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return Open(cfg)
}

// WithTxn runs fn inside a read-write transaction, aborting before starting
// one if ctx is already done.
func (db *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}
	return db.DB.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction, aborting before
// starting one if ctx is already done.
func (db *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}
	return db.DB.View(fn)
}

// GCRunner periodically runs Badger's value-log garbage collection.
type GCRunner struct {
	db       *DB
	interval time.Duration
	ratio    float64
	logger   *logging.Logger

	done    chan struct{}
	stopped chan struct{}
}

// NewGCRunner validates its arguments and returns a runner ready to Start.
func NewGCRunner(db *DB, interval time.Duration, ratio float64, logger *logging.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GCRunner{db: db, interval: interval, ratio: ratio, logger: logger}, nil
}

// Start launches the background GC loop. It is not safe to call twice
// without an intervening Stop.
func (r *GCRunner) Start() {
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.loop()
}

// Stop signals the loop to exit and waits for it to return.
func (r *GCRunner) Stop() {
	if r.done == nil {
		return
	}
	close(r.done)
	<-r.stopped
}

func (r *GCRunner) loop() {
	defer close(r.stopped)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *GCRunner) runOnce() {
	// RunValueLogGC returns ErrNoRewrite when there's nothing to reclaim;
	// loop until it says so, matching Badger's documented usage pattern.
	for {
		if err := r.db.RunValueLogGC(r.ratio); err != nil {
			if err != badger.ErrNoRewrite {
				r.logger.Warn("value log gc failed", "error", err.Error())
			}
			return
		}
	}
}

// TempDir creates a fresh temporary directory for a test-scoped database.
func TempDir(prefix string) (string, error) {
	return os.MkdirTemp("", prefix)
}

// CleanupDir removes a directory created by TempDir. Empty paths are a no-op.
func CleanupDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
