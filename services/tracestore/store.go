// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tracestore is the durable, single-writer record store for
// debate traces, built on an embedded BadgerDB database.
package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
	"github.com/aleutianai/debatearena/services/tracestore/badgerstore"
)

const (
	tracePrefix     = "trace:"
	schemaKey       = "schema:version"
	currentSchema   = "1"
	defaultListSize = 20
)

// Store is the domain-level trace record store. It wraps a badgerstore.DB
// and owns the key layout and JSON encoding of trace records.
type Store struct {
	db     *badgerstore.DB
	logger *logging.Logger
}

// Open wraps db as a Store, writing the schema version record on first
// use. Re-opening an existing store checks the stored version against
// currentSchema and refuses to serve a database written by an
// incompatible future schema.
func Open(db *badgerstore.DB, logger *logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("tracestore: db must not be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err == badger.ErrKeyNotFound {
		return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Set([]byte(schemaKey), []byte(currentSchema))
		})
	}
	if err != nil {
		return err
	}
	if version != currentSchema {
		return fmt.Errorf("tracestore: database schema version %q is incompatible with %q", version, currentSchema)
	}
	return nil
}

func traceKey(id string) []byte {
	return []byte(tracePrefix + id)
}

// Save persists trace atomically: all of its rounds or none. It rejects
// traces that violate I1 (contiguous round numbers) or I4 (roundsMs
// length matches totalRounds), and fails with a Duplicate error if a
// trace with the same id already exists.
func (s *Store) Save(ctx context.Context, trace domain.DebateTrace) error {
	if err := validateTrace(trace); err != nil {
		return err
	}

	payload, err := json.Marshal(trace)
	if err != nil {
		return &domain.InternalError{Op: "save trace", Err: err}
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, getErr := txn.Get(traceKey(trace.ID))
		if getErr == nil {
			return &domain.DuplicateError{Kind: "trace", ID: trace.ID}
		}
		if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		return txn.Set(traceKey(trace.ID), payload)
	})
	if err != nil {
		if _, ok := err.(*domain.DuplicateError); ok {
			return err
		}
		return &domain.InternalError{Op: "save trace", Err: err}
	}
	return nil
}

func validateTrace(trace domain.DebateTrace) error {
	if trace.ID == "" {
		return domain.ValidationErrorf("trace id must not be empty")
	}
	if trace.TotalRounds != len(trace.Rounds) {
		return domain.ValidationErrorf("totalRounds %d does not match %d persisted rounds", trace.TotalRounds, len(trace.Rounds))
	}
	for i, r := range trace.Rounds {
		if r.Round != i+1 {
			return domain.ValidationErrorf("round numbers must be contiguous starting at 1, got %d at index %d", r.Round, i)
		}
	}
	if len(trace.Timing.RoundsMs) != trace.TotalRounds {
		return domain.ValidationErrorf("timing.roundsMs length %d does not match totalRounds %d", len(trace.Timing.RoundsMs), trace.TotalRounds)
	}
	if trace.UserRating != nil && (*trace.UserRating < 1 || *trace.UserRating > 10) {
		return domain.ValidationErrorf("userRating must be in [1,10]")
	}
	return nil
}

// Get returns the trace with the given id, with rounds ordered by round
// number, or nil if no such trace exists.
func (s *Store) Get(ctx context.Context, id string) (*domain.DebateTrace, error) {
	var trace *domain.DebateTrace
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var t domain.DebateTrace
			if err := json.Unmarshal(val, &t); err != nil {
				return err
			}
			sort.Slice(t.Rounds, func(i, j int) bool { return t.Rounds[i].Round < t.Rounds[j].Round })
			trace = &t
			return nil
		})
	})
	if err != nil {
		return nil, &domain.InternalError{Op: "get trace", Err: err}
	}
	return trace, nil
}

func (s *Store) scanAll(ctx context.Context) ([]domain.DebateTrace, error) {
	var traces []domain.DebateTrace
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tracePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				var t domain.DebateTrace
				if err := json.Unmarshal(val, &t); err != nil {
					return err
				}
				traces = append(traces, t)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &domain.InternalError{Op: "scan traces", Err: err}
	}
	return traces, nil
}

// List returns a page of traces ordered by createdAt descending, along
// with stats computed over the entire store (not just the returned
// page).
func (s *Store) List(ctx context.Context, query domain.ListQuery) (domain.ListResult, error) {
	all, err := s.scanAll(ctx)
	if err != nil {
		return domain.ListResult{}, err
	}

	stats := computeStats(all)

	filtered := make([]domain.DebateTrace, 0, len(all))
	for _, t := range all {
		if query.MinQuality != nil {
			max := t.MaxScore()
			if max == nil || *max < *query.MinQuality {
				continue
			}
		}
		if query.SearchText != "" && !strings.Contains(t.Query, query.SearchText) {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })

	limit := query.Limit
	if limit <= 0 {
		limit = defaultListSize
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	start := offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return domain.ListResult{Traces: filtered[start:end], Stats: stats}, nil
}

// Rate sets userRating on the trace with the given id. The update is
// applied inside a single read-modify-write transaction so concurrent
// rating of the same trace never produces a torn write.
func (s *Store) Rate(ctx context.Context, id string, score int) error {
	if score < 1 || score > 10 {
		return domain.ValidationErrorf("rating must be in [1,10], got %d", score)
	}

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(id))
		if err == badger.ErrKeyNotFound {
			return &domain.NotFoundError{Kind: "trace", ID: id}
		}
		if err != nil {
			return err
		}

		var t domain.DebateTrace
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &t) }); err != nil {
			return err
		}

		rating := score
		t.UserRating = &rating

		payload, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return txn.Set(traceKey(id), payload)
	})

	switch err.(type) {
	case nil:
		return nil
	case *domain.NotFoundError:
		return err
	default:
		return &domain.InternalError{Op: "rate trace", Err: err}
	}
}

// FinetuneCandidates returns every trace whose max(userRating, autoScore)
// is at least q.
func (s *Store) FinetuneCandidates(ctx context.Context, q int) ([]domain.FineTuneCandidate, error) {
	all, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []domain.FineTuneCandidate
	for _, t := range all {
		if t.IsFineTuneCandidate(q) {
			candidates = append(candidates, domain.FineTuneCandidate{TraceID: t.ID})
		}
	}
	return candidates, nil
}

// Stats summarizes the entire trace store.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	all, err := s.scanAll(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	return computeStats(all), nil
}

// finetuneThreshold is the default q used for the candidate count
// reported in Stats, matching spec.md's finetune_candidates(q=8) default.
const finetuneThreshold = 8

func computeStats(traces []domain.DebateTrace) domain.Stats {
	var sum float64
	var scored int
	var candidates int

	for _, t := range traces {
		if m := t.MaxScore(); m != nil {
			sum += float64(*m)
			scored++
		}
		if t.IsFineTuneCandidate(finetuneThreshold) {
			candidates++
		}
	}

	var mean float64
	if scored > 0 {
		mean = sum / float64(scored)
	}

	return domain.Stats{
		Count:           len(traces),
		MeanQuality:     mean,
		CandidatesCount: candidates,
	}
}

// schemaVersion returns the stored schema version string, used by
// ensureSchema to detect an incompatible database.
func (s *Store) schemaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	if _, convErr := strconv.Atoi(version); convErr != nil {
		return "", fmt.Errorf("corrupt schema version %q", version)
	}
	return version, nil
}
