// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package event provides the per-task sequenced event queue: an append-only,
// bounded, multi-consumer record of everything that happened to one task.
//
// Publishing never blocks the producer: events are appended to a retained
// log and waiting subscribers are woken by a broadcast. When the log reaches
// capacity further publishes fail fast with ErrQueueFull; this is the
// documented overflow policy (events are never silently dropped and a slow
// consumer never exerts backpressure on the producer, because consumers read
// the log at their own cursor).
package event

import (
	"context"
	"sync"
	"time"

	dawn "github.com/emezac/dawn-sub000"
)

// DefaultMaxQueueSize is the default maximum number of retained events.
const DefaultMaxQueueSize = 1024

// Queue is the ordered, sequenced event record for exactly one task.
// Sequence numbers start at 1 and are gapless; any subscriber reading from a
// retained sequence observes every event in order.
type Queue struct {
	taskID  string
	maxSize int

	mu     sync.Mutex
	events []dawn.Event
	closed bool
	wake   chan struct{}
}

// NewQueue creates a queue for the given task. If maxSize is not positive,
// DefaultMaxQueueSize is used.
func NewQueue(taskID string, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	return &Queue{
		taskID:  taskID,
		maxSize: maxSize,
		wake:    make(chan struct{}),
	}
}

// TaskID returns the id of the task this queue records.
func (q *Queue) TaskID() string { return q.taskID }

// Publish appends an event, assigning it the next sequence number, and wakes
// all waiting subscribers. The assigned sequence is returned.
//
// Publish never blocks. It returns ErrQueueClosed after Close and
// ErrQueueFull once the retained log is at capacity.
func (q *Queue) Publish(ev dawn.Event) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	if len(q.events) >= q.maxSize {
		return 0, ErrQueueFull
	}

	seq := uint64(len(q.events)) + 1
	q.events = append(q.events, stamp(ev, seq))

	close(q.wake)
	q.wake = make(chan struct{})

	return seq, nil
}

// stamp returns a copy of ev carrying the assigned sequence number. The
// variant set is closed, so the type switch is exhaustive.
func stamp(ev dawn.Event, seq uint64) dawn.Event {
	switch e := ev.(type) {
	case *dawn.StatusUpdateEvent:
		c := *e
		c.Seq = seq
		if c.Timestamp.IsZero() {
			c.Timestamp = time.Now().UTC()
		}
		return &c
	case *dawn.ArtifactUpdateEvent:
		c := *e
		c.Seq = seq
		if c.Timestamp.IsZero() {
			c.Timestamp = time.Now().UTC()
		}
		return &c
	default:
		// Unreachable for the closed variant set.
		return ev
	}
}

// Subscribe returns a subscription positioned at from. A from of 0 (or any
// value at most the next unassigned sequence) resumes from that point in the
// retained log; SubscribeNow starts at the live tail instead.
//
// from is the sequence of the first event the subscription will deliver;
// from=1 replays the task's full event record.
func (q *Queue) Subscribe(from uint64) *Subscription {
	if from == 0 {
		from = 1
	}
	return &Subscription{queue: q, next: from}
}

// SubscribeNow returns a subscription that delivers only events published
// after this call.
func (q *Queue) SubscribeNow() *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &Subscription{queue: q, next: uint64(len(q.events)) + 1}
}

// Len returns the number of retained events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// NextSequence returns the sequence number the next published event will get.
func (q *Queue) NextSequence() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint64(len(q.events)) + 1
}

// Close rejects further publishes and wakes all waiting subscribers.
// Subscribers still drain every retained event before seeing ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Subscription is a cursor over a queue's retained log. Each subscriber
// advances independently; a slow subscriber never delays the producer or
// other subscribers.
type Subscription struct {
	queue *Queue
	next  uint64
	done  bool
}

// Next blocks until the event at the subscription's cursor is available and
// returns it, advancing the cursor. It returns ErrSubscriptionDone after a
// final event has been delivered, ErrQueueClosed once the queue is closed
// and drained, or the context error if ctx ends first.
func (s *Subscription) Next(ctx context.Context) (dawn.Event, error) {
	if s.done {
		return nil, ErrSubscriptionDone
	}

	for {
		s.queue.mu.Lock()
		if s.next <= uint64(len(s.queue.events)) {
			ev := s.queue.events[s.next-1]
			s.next++
			s.queue.mu.Unlock()
			if ev.Final() {
				s.done = true
			}
			return ev, nil
		}
		if s.queue.closed {
			s.queue.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wake := s.queue.wake
		s.queue.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// TryNext returns the event at the cursor without blocking, or ErrQueueEmpty
// if none is available yet.
func (s *Subscription) TryNext() (dawn.Event, error) {
	if s.done {
		return nil, ErrSubscriptionDone
	}

	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()

	if s.next <= uint64(len(s.queue.events)) {
		ev := s.queue.events[s.next-1]
		s.next++
		if ev.Final() {
			s.done = true
		}
		return ev, nil
	}
	if s.queue.closed {
		return nil, ErrQueueClosed
	}
	return nil, ErrQueueEmpty
}

// Position returns the sequence number of the next event the subscription
// will deliver.
func (s *Subscription) Position() uint64 { return s.next }

// Done reports whether the subscription has delivered a final event.
func (s *Subscription) Done() bool { return s.done }
