// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package broker bridges a long-running debate orchestrator coroutine to
// a late-joining HTTP subscriber: register a debate by id, optionally
// subscribe to its event stream (replaying anything already produced),
// and evict the retained log once it has sat idle past completion.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
)

const (
	// DefaultBufferSize is the live-subscriber channel's capacity. Once
	// full, further ordinary events are dropped per spec.md §5; completed,
	// failed, and early_stop are always force-delivered.
	DefaultBufferSize = 64

	// DefaultIdleTTL is how long a completed debate's log is retained
	// for a late subscriber before it is evicted.
	DefaultIdleTTL = 5 * time.Minute

	// DefaultSweepInterval is how often the eviction sweep runs.
	DefaultSweepInterval = 30 * time.Second
)

// Broker is the process-wide debateId → event-log map described by
// spec.md §4.6. The zero value is not usable; construct with New.
type Broker struct {
	mu            sync.Mutex
	debates       map[string]*debateLog
	bufferSize    int
	idleTTL       time.Duration
	sweepInterval time.Duration
	logger        *logging.Logger
	done          chan struct{}
	stopOnce      sync.Once
}

// New builds a Broker. A zero bufferSize/idleTTL/sweepInterval falls back
// to the package defaults.
func New(bufferSize int, idleTTL, sweepInterval time.Duration, logger *logging.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Broker{
		debates:       make(map[string]*debateLog),
		bufferSize:    bufferSize,
		idleTTL:       idleTTL,
		sweepInterval: sweepInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Producer is the channel-producer handle Register returns: the only way
// to push events into a registered debate's log.
type Producer struct {
	broker *Broker
	id     string
}

// Emit pushes one event into the debate's log, forwarding it to a live
// subscriber if one is attached. Terminal events mark the log complete.
func (p *Producer) Emit(ev domain.Event) error {
	return p.broker.push(p.id, ev)
}

// Register creates a new debate log for id. It fails with *domain.DuplicateError
// if id is already registered.
func (b *Broker) Register(id string) (*Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.debates[id]; exists {
		return nil, &domain.DuplicateError{Kind: "debate", ID: id}
	}
	b.debates[id] = newDebateLog()
	return &Producer{broker: b, id: id}, nil
}

// Subscribe attaches the single allowed subscriber to id's event stream.
// It replays every event already produced before relaying new ones
// (P7). It fails with *domain.NotFoundError if id is unknown (never
// registered, or already evicted) and *domain.DuplicateError if a
// subscriber is already attached. The returned channel closes after the
// terminal event, or immediately if ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, id string) (<-chan domain.Event, error) {
	b.mu.Lock()
	dl, ok := b.debates[id]
	b.mu.Unlock()
	if !ok {
		return nil, &domain.NotFoundError{Kind: "debate", ID: id}
	}

	dl.mu.Lock()
	if dl.subscribed {
		dl.mu.Unlock()
		return nil, &domain.DuplicateError{Kind: "subscription", ID: id}
	}
	dl.subscribed = true
	dl.mu.Unlock()

	return dl.subscribe(ctx, b.bufferSize), nil
}

// Complete marks id's log terminal without requiring a synthetic event.
// Idempotent; a no-op if id is unknown or already terminal.
func (b *Broker) Complete(id string) error {
	return b.markTerminal(id)
}

// Fail marks id's log terminal. Semantically identical to Complete: both
// the orchestrator's success and failure paths end the log the same way
// once the terminal event itself has already been relayed by Emit.
func (b *Broker) Fail(id string) error {
	return b.markTerminal(id)
}

func (b *Broker) markTerminal(id string) error {
	b.mu.Lock()
	dl, ok := b.debates[id]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	dl.markTerminal()
	return nil
}

func (b *Broker) push(id string, ev domain.Event) error {
	b.mu.Lock()
	dl, ok := b.debates[id]
	b.mu.Unlock()
	if !ok {
		return &domain.NotFoundError{Kind: "debate", ID: id}
	}
	dl.push(ev)
	return nil
}

// Start launches the idle-eviction sweep. Safe to call at most once.
func (b *Broker) Start(ctx context.Context) {
	go b.sweepLoop(ctx)
}

// Stop halts the eviction sweep. Safe to call multiple times.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

func (b *Broker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.evictIdle()
		}
	}
}

func (b *Broker) evictIdle() {
	cutoff := time.Now().Add(-b.idleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, dl := range b.debates {
		if dl.idleSince(cutoff) {
			delete(b.debates, id)
			b.logger.Debug("broker evicted idle debate log", "debateId", id)
		}
	}
}

// ActiveCount reports how many debate logs the broker currently retains
// (registered, in-flight, or idle-but-not-yet-evicted). Exposed for
// health/diagnostics.
func (b *Broker) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.debates)
}

// debateLog is the append-only per-debate event log plus, once a
// subscriber attaches, the cursor state driving replay-then-live
// delivery. A single background goroutine (started by subscribe) owns
// the read cursor; producers only ever append under the lock and
// broadcast the condition variable.
type debateLog struct {
	mu         sync.Mutex
	cond       *sync.Cond
	events     []domain.Event
	terminal   bool
	finishedAt time.Time
	subscribed bool
}

func newDebateLog() *debateLog {
	dl := &debateLog{}
	dl.cond = sync.NewCond(&dl.mu)
	return dl
}

func (dl *debateLog) push(ev domain.Event) {
	dl.mu.Lock()
	dl.events = append(dl.events, ev)
	if ev.Terminal() {
		dl.terminal = true
		dl.finishedAt = time.Now()
	}
	dl.cond.Broadcast()
	dl.mu.Unlock()
}

func (dl *debateLog) markTerminal() {
	dl.mu.Lock()
	if !dl.terminal {
		dl.terminal = true
		dl.finishedAt = time.Now()
		dl.cond.Broadcast()
	}
	dl.mu.Unlock()
}

func (dl *debateLog) idleSince(cutoff time.Time) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.terminal && dl.finishedAt.Before(cutoff)
}

// subscribe spawns the forwarding goroutine and returns its output
// channel. It replays dl.events from index 0, then blocks for new
// events via the condition variable, until a terminal event has been
// delivered or ctx is cancelled.
func (dl *debateLog) subscribe(ctx context.Context, bufferSize int) <-chan domain.Event {
	out := make(chan domain.Event, bufferSize)

	go func() {
		defer close(out)

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				dl.mu.Lock()
				dl.cond.Broadcast()
				dl.mu.Unlock()
			case <-stop:
			}
		}()

		idx := 0
		for {
			dl.mu.Lock()
			for idx >= len(dl.events) && !dl.terminal && ctx.Err() == nil {
				dl.cond.Wait()
			}
			if idx >= len(dl.events) {
				dl.mu.Unlock()
				return
			}
			ev := dl.events[idx]
			idx++
			dl.mu.Unlock()

			if !dl.deliver(ctx, out, ev) {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()

	return out
}

// deliver sends ev to out, applying the backpressure policy from
// spec.md §5: ordinary events are dropped (not blocked on) when the
// buffer is full; completed, failed, and early_stop are always
// force-delivered: when the buffer is full, delivery of one of them waits
// until the consumer makes room. It returns false if ctx was cancelled
// before delivery completed.
func (dl *debateLog) deliver(ctx context.Context, out chan domain.Event, ev domain.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
	}

	if !ev.ForceDelivered() {
		return true // dropped: consumer is behind, move on to the next event
	}

	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
