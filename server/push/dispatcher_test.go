// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-json-experiment/json"

	dawn "github.com/emezac/dawn-sub000"
	"github.com/emezac/dawn-sub000/server/event"
)

func testStatusEvent(taskID string, state dawn.TaskState, final bool) *dawn.StatusUpdateEvent {
	return &dawn.StatusUpdateEvent{
		ID:      taskID,
		Status:  dawn.TaskStatus{State: state, Timestamp: time.Now().UTC()},
		IsFinal: final,
	}
}

func fastRetry(maxRetries int) dawn.RetryPolicy {
	return dawn.RetryPolicy{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDispatcher_DeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	// The Event field is an interface; decode only the envelope header.
	type envelopeHeader struct {
		TaskID   string `json:"taskId"`
		Kind     string `json:"kind"`
		Sequence uint64 `json:"sequence"`
	}

	var mu sync.Mutex
	var got []envelopeHeader
	var tokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var env envelopeHeader
		if err := json.Unmarshal(body, &env); err != nil {
			t.Errorf("unmarshal envelope: %v", err)
		}
		mu.Lock()
		got = append(got, env)
		tokens = append(tokens, r.Header.Get(NotificationTokenHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	configs := NewInMemoryConfigStore()
	queues := event.NewManager(0)
	d := NewDispatcher(DispatcherConfig{
		Configs: configs,
		Queues:  queues,
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
	})

	config := &dawn.NotificationConfig{
		URL:   server.URL,
		Token: "secret-token",
		Retry: fastRetry(2),
	}
	if err := configs.Set(context.Background(), "task-1", config); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	d.Watch("task-1")

	q := queues.Get("task-1")
	states := []dawn.TaskState{dawn.TaskStateSubmitted, dawn.TaskStateWorking, dawn.TaskStateCompleted}
	for i, state := range states {
		if _, err := q.Publish(testStatusEvent("task-1", state, i == len(states)-1)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(got))
	}
	for i, env := range got {
		if env.Sequence != uint64(i+1) {
			t.Errorf("delivery %d sequence = %d, want %d", i, env.Sequence, i+1)
		}
		if env.TaskID != "task-1" {
			t.Errorf("delivery %d task id = %q, want task-1", i, env.TaskID)
		}
	}
	for i, token := range tokens {
		if token != "secret-token" {
			t.Errorf("delivery %d token header = %q, want secret-token", i, token)
		}
	}
}

func TestDispatcher_FailingEndpointGetsExactlyMaxRetriesPlusOneAttempts(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var deadLetters []dawn.DeliveryError
	var mu sync.Mutex
	configs := NewInMemoryConfigStore()
	queues := event.NewManager(0)
	d := NewDispatcher(DispatcherConfig{
		Configs: configs,
		Queues:  queues,
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
		DeadLetter: func(ev dawn.Event, err dawn.DeliveryError) {
			mu.Lock()
			deadLetters = append(deadLetters, err)
			mu.Unlock()
		},
	})

	const maxRetries = 2
	config := &dawn.NotificationConfig{
		URL:   server.URL,
		Retry: fastRetry(maxRetries),
	}
	if err := configs.Set(context.Background(), "task-1", config); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	d.Watch("task-1")

	if _, err := queues.Get("task-1").Publish(testStatusEvent("task-1", dawn.TaskStateCompleted, true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := attempts.Load(); got != maxRetries+1 {
		t.Errorf("attempts = %d, want exactly %d", got, maxRetries+1)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deadLetters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(deadLetters))
	}
	if deadLetters[0].Attempts != maxRetries+1 {
		t.Errorf("dead letter attempts = %d, want %d", deadLetters[0].Attempts, maxRetries+1)
	}
	if deadLetters[0].URL != server.URL {
		t.Errorf("dead letter url = %q, want %q", deadLetters[0].URL, server.URL)
	}
}

func TestDispatcher_SignsDeliveriesWhenKeyConfigured(t *testing.T) {
	t.Parallel()

	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	configs := NewInMemoryConfigStore()
	queues := event.NewManager(0)
	d := NewDispatcher(DispatcherConfig{
		Configs: configs,
		Queues:  queues,
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
	})

	config := &dawn.NotificationConfig{
		URL:        server.URL,
		SigningKey: "super-secret",
		Retry:      fastRetry(0),
	}
	if err := configs.Set(context.Background(), "task-1", config); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	d.Watch("task-1")

	if _, err := queues.Get("task-1").Publish(testStatusEvent("task-1", dawn.TaskStateCompleted, true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	header, _ := auth.Load().(string)
	if len(header) < len("Bearer ") || header[:len("Bearer ")] != "Bearer " {
		t.Errorf("Authorization header = %q, want a bearer JWT", header)
	}
}

func TestDispatcher_NotifyWithoutRegistrationIsNoop(t *testing.T) {
	t.Parallel()

	configs := NewInMemoryConfigStore()
	queues := event.NewManager(0)
	d := NewDispatcher(DispatcherConfig{
		Configs: configs,
		Queues:  queues,
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
	})

	d.Notify(testStatusEvent("task-1", dawn.TaskStateWorking, false))
	if d.ActiveWorkers() != 0 {
		t.Errorf("ActiveWorkers = %d, want 0", d.ActiveWorkers())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestDispatcher_WatchIsIdempotent(t *testing.T) {
	t.Parallel()

	var deliveries atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	configs := NewInMemoryConfigStore()
	queues := event.NewManager(0)
	d := NewDispatcher(DispatcherConfig{
		Configs: configs,
		Queues:  queues,
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
	})

	config := &dawn.NotificationConfig{URL: server.URL, Retry: fastRetry(0)}
	if err := configs.Set(context.Background(), "task-1", config); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	d.Watch("task-1")
	d.Watch("task-1")

	if _, err := queues.Get("task-1").Publish(testStatusEvent("task-1", dawn.TaskStateCompleted, true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := deliveries.Load(); got != 1 {
		t.Errorf("deliveries = %d, want 1 despite duplicate Watch", got)
	}
}

func TestDispatcher_CloseDuringNotifyBursts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	configs := NewInMemoryConfigStore()
	queues := event.NewManager(0)
	d := NewDispatcher(DispatcherConfig{
		Configs: configs,
		Queues:  queues,
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
	})

	config := &dawn.NotificationConfig{URL: server.URL, Retry: fastRetry(0)}
	if err := configs.Set(context.Background(), "task-1", config); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Hammer Notify from several goroutines while Close runs. A send on a
	// channel Close has already closed panics and fails the test.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					d.Notify(testStatusEvent("task-1", dawn.TaskStateWorking, false))
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(stop)
	wg.Wait()

	if d.ActiveWorkers() != 0 {
		t.Errorf("ActiveWorkers = %d, want 0 after Close", d.ActiveWorkers())
	}
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatcherConfig{
		Configs: NewInMemoryConfigStore(),
		Queues:  event.NewManager(0),
		Sender:  NewHTTPSender(HTTPSenderConfig{}),
	})

	ctx := context.Background()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
