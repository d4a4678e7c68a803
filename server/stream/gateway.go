// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream bridges per-task event queues to streaming consumers. A
// stream is a live channel of a task's events; it replays the retained
// record from the requested sequence, then follows the tail until a final
// event, the consumer's context ending, or queue shutdown.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	dawn "github.com/emezac/dawn-sub000"
	"github.com/emezac/dawn-sub000/server/event"
)

// DefaultStreamBuffer is the send buffer of each stream channel. A consumer
// that stops reading stalls only its own forwarding goroutine, never the
// queue.
const DefaultStreamBuffer = 16

// Gateway hands out event streams over the per-task queues.
type Gateway struct {
	queues *event.Manager
	logger *slog.Logger

	mu      sync.Mutex
	active  map[string]int
	counter atomic.Int64
}

// NewGateway creates a Gateway over the given queues.
func NewGateway(queues *event.Manager, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		queues: queues,
		logger: logger,
		active: make(map[string]int),
	}
}

// OpenStream opens an event stream for a task. With from nil the stream
// replays the task's full event record from sequence 1; with from set it
// resumes at exactly that sequence, delivering no duplicates and no gaps
// relative to a stream that previously ended at from-1.
//
// The returned channel closes after a final event is delivered, when ctx
// ends, or when the task's queue shuts down. A task id with no events yet is
// not an error: the stream attaches to the task's queue, created on demand,
// so a consumer may open a stream before the task is submitted and observe
// its lifecycle from the first Submitted event.
func (g *Gateway) OpenStream(ctx context.Context, taskID string, from *uint64) (<-chan dawn.Event, error) {
	if taskID == "" {
		return nil, dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	start := uint64(1)
	if from != nil {
		start = *from
	}
	sub := g.queues.Get(taskID).Subscribe(start)

	out := make(chan dawn.Event, DefaultStreamBuffer)
	g.register(taskID)
	g.counter.Add(1)

	go func() {
		defer close(out)
		defer g.deregister(taskID)
		defer g.counter.Add(-1)

		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				switch {
				case errors.Is(err, event.ErrSubscriptionDone), errors.Is(err, event.ErrQueueClosed):
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				default:
					g.logger.Warn("stream ended unexpectedly", "task_id", taskID, "error", err)
				}
				return
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}

			if ev.Final() {
				return
			}
		}
	}()

	return out, nil
}

// Resubscribe reopens a stream after a disconnect, resuming at the sequence
// after lastSeq: the first delivered event is lastSeq+1.
func (g *Gateway) Resubscribe(ctx context.Context, taskID string, lastSeq uint64) (<-chan dawn.Event, error) {
	from := lastSeq + 1
	return g.OpenStream(ctx, taskID, &from)
}

// ActiveStreams returns the number of open streams for a task.
func (g *Gateway) ActiveStreams(taskID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[taskID]
}

// TotalStreams returns the number of open streams across all tasks.
func (g *Gateway) TotalStreams() int64 {
	return g.counter.Load()
}

func (g *Gateway) register(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[taskID]++
}

func (g *Gateway) deregister(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[taskID] <= 1 {
		delete(g.active, taskID)
		return
	}
	g.active[taskID]--
}
