// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	dawn "github.com/emezac/dawn-sub000"
)

func statusEvent(taskID string, state dawn.TaskState, final bool) *dawn.StatusUpdateEvent {
	return &dawn.StatusUpdateEvent{
		ID:      taskID,
		Status:  dawn.TaskStatus{State: state, Timestamp: time.Now().UTC()},
		IsFinal: final,
	}
}

func TestNewQueue(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		maxSize     int
		wantMaxSize int
	}{
		"default size": {maxSize: 0, wantMaxSize: DefaultMaxQueueSize},
		"custom size":  {maxSize: 100, wantMaxSize: 100},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			q := NewQueue("task-1", tt.maxSize)
			if q.maxSize != tt.wantMaxSize {
				t.Errorf("queue.maxSize = %v, want %v", q.maxSize, tt.wantMaxSize)
			}
			if q.Len() != 0 {
				t.Errorf("new queue should be empty, got %d", q.Len())
			}
			if q.TaskID() != "task-1" {
				t.Errorf("queue.TaskID() = %q, want %q", q.TaskID(), "task-1")
			}
		})
	}
}

func TestQueue_PublishAssignsGaplessSequences(t *testing.T) {
	t.Parallel()

	q := NewQueue("task-1", 10)
	defer q.Close()

	for i := 1; i <= 5; i++ {
		seq, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false))
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if seq != uint64(i) {
			t.Errorf("Publish() seq = %d, want %d", seq, i)
		}
	}

	sub := q.Subscribe(1)
	for i := 1; i <= 5; i++ {
		ev, err := sub.TryNext()
		if err != nil {
			t.Fatalf("TryNext() error = %v", err)
		}
		if ev.Sequence() != uint64(i) {
			t.Errorf("event sequence = %d, want %d", ev.Sequence(), i)
		}
	}
}

func TestQueue_PublishFull(t *testing.T) {
	t.Parallel()

	q := NewQueue("task-1", 2)
	defer q.Close()

	for range 2 {
		if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Publish() on full queue error = %v, want %v", err, ErrQueueFull)
	}
}

func TestQueue_PublishClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue("task-1", 10)
	q.Close()

	if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Publish() on closed queue error = %v, want %v", err, ErrQueueClosed)
	}
	if !q.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
}

func TestQueue_SubscribeReplaysRetainedEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue("task-1", 10)
	defer q.Close()

	want := []dawn.TaskState{dawn.TaskStateSubmitted, dawn.TaskStateWorking, dawn.TaskStateCompleted}
	for i, state := range want {
		final := i == len(want)-1
		if _, err := q.Publish(statusEvent("task-1", state, final)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	sub := q.Subscribe(1)
	var got []dawn.TaskState
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, ev.(*dawn.StatusUpdateEvent).Status.State)
		if ev.Final() {
			break
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replayed states mismatch (-want +got):\n%s", diff)
	}

	if _, err := sub.Next(ctx); !errors.Is(err, ErrSubscriptionDone) {
		t.Errorf("Next() after final error = %v, want %v", err, ErrSubscriptionDone)
	}
}

func TestQueue_ResumeFromSequenceNoDupNoGap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue("task-1", 20)
	defer q.Close()

	for range 10 {
		if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	// First consumer reads 4 events, then disconnects.
	first := q.Subscribe(1)
	var last uint64
	for range 4 {
		ev, err := first.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		last = ev.Sequence()
	}

	// Resume picks up at exactly last+1.
	resumed := q.Subscribe(last + 1)
	for want := last + 1; want <= 10; want++ {
		ev, err := resumed.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Sequence() != want {
			t.Fatalf("resumed sequence = %d, want %d", ev.Sequence(), want)
		}
	}
}

func TestQueue_SubscribeNowSkipsHistory(t *testing.T) {
	t.Parallel()

	q := NewQueue("task-1", 10)
	defer q.Close()

	for range 3 {
		if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	sub := q.SubscribeNow()
	if _, err := sub.TryNext(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("TryNext() error = %v, want %v", err, ErrQueueEmpty)
	}

	if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	ev, err := sub.TryNext()
	if err != nil {
		t.Fatalf("TryNext() error = %v", err)
	}
	if ev.Sequence() != 4 {
		t.Errorf("event sequence = %d, want 4", ev.Sequence())
	}
}

func TestQueue_NextBlocksUntilPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue("task-1", 10)
	defer q.Close()

	sub := q.Subscribe(1)
	got := make(chan dawn.Event, 1)
	go func() {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		got <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case ev := <-got:
		if ev.Sequence() != 1 {
			t.Errorf("event sequence = %d, want 1", ev.Sequence())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next() did not return after Publish()")
	}
}

func TestQueue_NextHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue("task-1", 10)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sub := q.Subscribe(1)
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestQueue_CloseDrainsBeforeError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue("task-1", 10)

	for range 3 {
		if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	q.Close()

	sub := q.Subscribe(1)
	for i := 1; i <= 3; i++ {
		ev, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v, want retained event %d", err, i)
		}
		if ev.Sequence() != uint64(i) {
			t.Errorf("event sequence = %d, want %d", ev.Sequence(), i)
		}
	}
	if _, err := sub.Next(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Next() after drain error = %v, want %v", err, ErrQueueClosed)
	}
}

func TestQueue_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue("task-1", 100)
	defer q.Close()

	slow := q.Subscribe(1)
	fast := q.Subscribe(1)

	for range 50 {
		if _, err := q.Publish(statusEvent("task-1", dawn.TaskStateWorking, false)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	// The fast consumer drains everything while the slow one has read
	// nothing.
	for i := 1; i <= 50; i++ {
		ev, err := fast.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Sequence() != uint64(i) {
			t.Fatalf("fast sequence = %d, want %d", ev.Sequence(), i)
		}
	}

	if slow.Position() != 1 {
		t.Errorf("slow.Position() = %d, want 1", slow.Position())
	}
	ev, err := slow.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Sequence() != 1 {
		t.Errorf("slow sequence = %d, want 1", ev.Sequence())
	}
}

func TestQueue_ConcurrentPublishersKeepOrderTotal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue("task-1", 1000)
	defer q.Close()

	const publishers = 10
	const perPublisher = 20

	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range perPublisher {
				ev := statusEvent("task-1", dawn.TaskStateWorking, false)
				ev.Status.Message = fmt.Sprintf("p%d-%d", p, i)
				if _, err := q.Publish(ev); err != nil {
					t.Errorf("Publish() error = %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	sub := q.Subscribe(1)
	for i := 1; i <= publishers*perPublisher; i++ {
		ev, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Sequence() != uint64(i) {
			t.Fatalf("sequence = %d, want %d: total order broken", ev.Sequence(), i)
		}
	}
}

func TestQueue_StampDoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	q := NewQueue("task-1", 10)
	defer q.Close()

	ev := statusEvent("task-1", dawn.TaskStateWorking, false)
	if _, err := q.Publish(ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if ev.Seq != 0 {
		t.Errorf("published event mutated: Seq = %d, want 0", ev.Seq)
	}
}
