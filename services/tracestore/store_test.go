// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tracestore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/services/tracestore/badgerstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := Open(db, nil)
	require.NoError(t, err)
	return store
}

func sampleTrace(id string, totalRounds int) domain.DebateTrace {
	rounds := make([]domain.Round, totalRounds)
	roundsMs := make([]int64, totalRounds)
	for i := 0; i < totalRounds; i++ {
		rounds[i] = domain.Round{Round: i + 1, ProposerText: "p", SkepticText: "s"}
		roundsMs[i] = 100
	}
	return domain.DebateTrace{
		ID:          id,
		CreatedAt:   time.Now(),
		Query:       "what is the meaning of " + id,
		Rounds:      rounds,
		TotalRounds: totalRounds,
		Timing:      domain.Timing{RoundsMs: roundsMs},
	}
}

func TestStore_SaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trace := sampleTrace("t1", 3)
	require.NoError(t, store.Save(ctx, trace))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TotalRounds)
	assert.Len(t, got.Rounds, 3)
	for i, r := range got.Rounds {
		assert.Equal(t, i+1, r.Round)
	}
}

func TestStore_GetReturnsNilForMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SaveRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trace := sampleTrace("dup", 1)
	require.NoError(t, store.Save(ctx, trace))

	err := store.Save(ctx, trace)
	require.Error(t, err)
	assert.True(t, domain.IsDuplicate(err))
}

func TestStore_SaveRejectsNonContiguousRounds(t *testing.T) {
	store := newTestStore(t)
	trace := sampleTrace("bad", 2)
	trace.Rounds[1].Round = 5 // breaks contiguity

	err := store.Save(context.Background(), trace)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestStore_SaveRejectsMismatchedRoundsMsLength(t *testing.T) {
	store := newTestStore(t)
	trace := sampleTrace("bad-timing", 2)
	trace.Timing.RoundsMs = trace.Timing.RoundsMs[:1]

	err := store.Save(context.Background(), trace)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestStore_RateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleTrace("rate-me", 1)))

	require.NoError(t, store.Rate(ctx, "rate-me", 7))

	got, err := store.Get(ctx, "rate-me")
	require.NoError(t, err)
	require.NotNil(t, got.UserRating)
	assert.Equal(t, 7, *got.UserRating)
}

func TestStore_RateRejectsOutOfRangeScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleTrace("rate-range", 1)))

	err := store.Rate(ctx, "rate-range", 11)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestStore_RateFailsNotFoundForMissingTrace(t *testing.T) {
	store := newTestStore(t)
	err := store.Rate(context.Background(), "ghost", 5)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestStore_ListFiltersByMinQualityAndSearchText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	high := sampleTrace("high", 1)
	score := 9
	high.AutoScore = &score
	require.NoError(t, store.Save(ctx, high))

	low := sampleTrace("low", 1)
	lowScore := 3
	low.AutoScore = &lowScore
	require.NoError(t, store.Save(ctx, low))

	minQuality := 8
	result, err := store.List(ctx, domain.ListQuery{Limit: 20, MinQuality: &minQuality})
	require.NoError(t, err)
	require.Len(t, result.Traces, 1)
	assert.Equal(t, "high", result.Traces[0].ID)
	assert.Equal(t, 2, result.Stats.Count)
}

func TestStore_FinetuneCandidatesUsesMaxOfUserAndAutoScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trace := sampleTrace("candidate", 1)
	auto := 5
	trace.AutoScore = &auto
	require.NoError(t, store.Save(ctx, trace))
	require.NoError(t, store.Rate(ctx, "candidate", 9))

	candidates, err := store.FinetuneCandidates(ctx, 8)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "candidate", candidates[0].TraceID)
}

func TestStore_StatsComputesMeanOverScoredTraces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleTrace("a", 1)
	scoreA := 4
	a.AutoScore = &scoreA
	require.NoError(t, store.Save(ctx, a))

	b := sampleTrace("b", 1)
	scoreB := 8
	b.AutoScore = &scoreB
	require.NoError(t, store.Save(ctx, b))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 6.0, stats.MeanQuality, 0.001)
	assert.Equal(t, 1, stats.CandidatesCount)
}

func TestStore_ReopenIsIdempotent(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(db, nil)
	require.NoError(t, err)
	_, err = Open(db, nil)
	require.NoError(t, err)
}

func TestStore_OpenRejectsIncompatibleSchemaVersion(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(db, nil)
	require.NoError(t, err)

	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), []byte("99"))
	}))

	_, err = Open(db, nil)
	require.Error(t, err)
}
