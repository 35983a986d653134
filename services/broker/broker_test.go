// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutianai/debatearena/pkg/domain"
)

func drain(t *testing.T, ch <-chan domain.Event, timeout time.Duration) []domain.Event {
	t.Helper()
	var events []domain.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(events))
			return nil
		}
	}
}

func TestBroker_RegisterDuplicateFails(t *testing.T) {
	b := New(0, 0, 0, nil)
	_, err := b.Register("d1")
	require.NoError(t, err)

	_, err = b.Register("d1")
	assert.True(t, domain.IsDuplicate(err))
}

func TestBroker_SubscribeUnknownIDFails(t *testing.T) {
	b := New(0, 0, 0, nil)
	_, err := b.Subscribe(context.Background(), "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestBroker_SubscribeTwiceFails(t *testing.T) {
	b := New(0, 0, 0, nil)
	_, err := b.Register("d1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = b.Subscribe(ctx, "d1")
	require.NoError(t, err)

	_, err = b.Subscribe(ctx, "d1")
	assert.True(t, domain.IsDuplicate(err))
}

func TestBroker_SubscribeReplaysPriorEventsThenLive(t *testing.T) {
	b := New(0, 0, 0, nil)
	producer, err := b.Register("d1")
	require.NoError(t, err)

	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventRAGStarted, Seq: 0}))
	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventRAGCompleted, Seq: 1}))

	ch, err := b.Subscribe(context.Background(), "d1")
	require.NoError(t, err)

	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventCompleted, Seq: 2, Trace: &domain.DebateTrace{ID: "d1"}}))

	events := drain(t, ch, 2*time.Second)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventRAGStarted, events[0].Type)
	assert.Equal(t, domain.EventRAGCompleted, events[1].Type)
	assert.Equal(t, domain.EventCompleted, events[2].Type)
}

func TestBroker_LateSubscribeAfterCompletionReplaysAllThenCloses(t *testing.T) {
	b := New(0, 0, 0, nil)
	producer, err := b.Register("d1")
	require.NoError(t, err)

	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventRAGStarted}))
	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventCompleted, Trace: &domain.DebateTrace{ID: "d1"}}))

	ch, err := b.Subscribe(context.Background(), "d1")
	require.NoError(t, err)

	events := drain(t, ch, 2*time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventCompleted, events[1].Type)
}

func TestBroker_TerminalEventNeverDropped(t *testing.T) {
	b := New(1, 0, 0, nil) // buffer size 1: guarantees backpressure
	producer, err := b.Register("d1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "d1")
	require.NoError(t, err)

	// Flood non-terminal events without draining; some may be dropped.
	for i := 0; i < 50; i++ {
		require.NoError(t, producer.Emit(domain.Event{Type: domain.EventProposerDelta, Seq: i}))
	}
	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventCompleted, Trace: &domain.DebateTrace{ID: "d1"}}))

	events := drain(t, ch, 2*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventCompleted, last.Type)
	assert.Less(t, len(events), 51, "some non-terminal events should have been dropped under backpressure")
}

func TestBroker_EarlyStopEventNeverDropped(t *testing.T) {
	b := New(1, 0, 0, nil) // buffer size 1: guarantees backpressure
	producer, err := b.Register("d1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "d1")
	require.NoError(t, err)

	// Flood ordinary events without draining; some may be dropped.
	for i := 0; i < 50; i++ {
		require.NoError(t, producer.Emit(domain.Event{Type: domain.EventProposerDelta, Seq: i}))
	}
	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventEarlyStop, Round: 2}))
	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventCompleted, Trace: &domain.DebateTrace{ID: "d1"}}))

	events := drain(t, ch, 2*time.Second)
	require.NotEmpty(t, events)

	var sawEarlyStop bool
	for _, ev := range events {
		if ev.Type == domain.EventEarlyStop {
			sawEarlyStop = true
		}
	}
	assert.True(t, sawEarlyStop, "early_stop must be force-delivered like completed/failed")
}

func TestBroker_SubscriberDisconnectDoesNotBlockProducer(t *testing.T) {
	b := New(1, 0, 0, nil)
	producer, err := b.Register("d1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = b.Subscribe(ctx, "d1")
	require.NoError(t, err)
	cancel() // simulate client disconnect

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = producer.Emit(domain.Event{Type: domain.EventProposerDelta, Seq: i})
		}
		_ = producer.Emit(domain.Event{Type: domain.EventCompleted, Trace: &domain.DebateTrace{ID: "d1"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a disconnected subscriber")
	}
}

func TestBroker_EvictsIdleDebateAfterTTL(t *testing.T) {
	b := New(0, 10*time.Millisecond, 5*time.Millisecond, nil)
	producer, err := b.Register("d1")
	require.NoError(t, err)
	require.NoError(t, producer.Emit(domain.Event{Type: domain.EventCompleted, Trace: &domain.DebateTrace{ID: "d1"}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	require.Eventually(t, func() bool {
		return b.ActiveCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, err = b.Subscribe(context.Background(), "d1")
	assert.True(t, domain.IsNotFound(err))
}
