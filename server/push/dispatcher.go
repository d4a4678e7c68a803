// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	dawn "github.com/emezac/dawn-sub000"
	"github.com/emezac/dawn-sub000/server/event"
)

// DefaultWorkerQueueSize bounds the per-task delivery backlog.
const DefaultWorkerQueueSize = 256

// DeadLetterFunc receives deliveries abandoned after the retry budget is
// exhausted or dropped because a worker's backlog overflowed.
type DeadLetterFunc func(ev dawn.Event, err dawn.DeliveryError)

// Dispatcher fans task events out to registered webhooks. Each task with a
// registration gets its own worker goroutine, so deliveries for one task are
// strictly ordered while tasks proceed in parallel. Delivery is at least
// once: failures are retried with exponential backoff per the endpoint's
// policy, and a delivery that ultimately fails goes to the dead-letter hook,
// never back into the task lifecycle.
type Dispatcher struct {
	configs    ConfigStore
	queues     *event.Manager
	sender     Sender
	logger     *slog.Logger
	deadLetter DeadLetterFunc
	queueSize  int

	mu       sync.Mutex
	workers  map[string]chan dawn.Event
	watching map[string]context.CancelFunc
	draining bool
	closed   bool

	watchers sync.WaitGroup
	group    errgroup.Group
}

// DispatcherConfig holds configuration for a Dispatcher.
type DispatcherConfig struct {
	Configs ConfigStore
	Queues  *event.Manager
	Sender  Sender
	Logger  *slog.Logger

	// DeadLetter, if set, receives permanently failed deliveries.
	DeadLetter DeadLetterFunc

	// QueueSize bounds each worker's backlog. Defaults to
	// DefaultWorkerQueueSize.
	QueueSize int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultWorkerQueueSize
	}
	return &Dispatcher{
		configs:    config.Configs,
		queues:     config.Queues,
		sender:     config.Sender,
		logger:     logger,
		deadLetter: config.DeadLetter,
		queueSize:  queueSize,
		workers:    make(map[string]chan dawn.Event),
		watching:   make(map[string]context.CancelFunc),
	}
}

// Watch starts streaming a task's event record into webhook delivery,
// replaying retained events so an endpoint registered mid-task still sees
// the full sequence. Watching the same task twice is a no-op. The watcher
// stops after the task's final event.
func (d *Dispatcher) Watch(taskID string) {
	d.mu.Lock()
	if d.draining || d.closed {
		d.mu.Unlock()
		return
	}
	if _, ok := d.watching[taskID]; ok {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.watching[taskID] = cancel
	d.mu.Unlock()

	sub := d.queues.Get(taskID).Subscribe(1)
	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()
		defer func() {
			d.mu.Lock()
			delete(d.watching, taskID)
			d.mu.Unlock()
			cancel()
		}()

		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					d.flush(sub)
				}
				return
			}
			d.Notify(ev)
			if ev.Final() {
				return
			}
		}
	}()
}

// flush hands the already retained backlog to delivery after the watcher's
// context has been canceled, so shutdown never discards recorded events.
func (d *Dispatcher) flush(sub *event.Subscription) {
	for {
		ev, err := sub.TryNext()
		if err != nil {
			return
		}
		d.Notify(ev)
		if ev.Final() {
			return
		}
	}
}

// Notify hands an event to the dispatcher for webhook delivery. It never
// blocks and never returns delivery failures: a task without a registration
// is skipped, and a worker backlog overflow is dead-lettered.
func (d *Dispatcher) Notify(ev dawn.Event) {
	config, err := d.configs.Get(context.Background(), ev.TaskID())
	if err != nil {
		// No registration for this task.
		return
	}

	// The send happens under the lock so Close cannot close the channel
	// between the lookup and the send. The channel is buffered and the send
	// non-blocking, so the lock is never held across a stalled delivery.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	jobs, ok := d.workers[ev.TaskID()]
	if !ok {
		jobs = make(chan dawn.Event, d.queueSize)
		d.workers[ev.TaskID()] = jobs
		d.group.Go(func() error {
			d.runWorker(ev.TaskID(), jobs)
			return nil
		})
	}

	select {
	case jobs <- ev:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		deliveryErr := dawn.DeliveryError{
			TaskID: ev.TaskID(),
			URL:    config.URL,
			Err:    fmt.Errorf("delivery backlog full"),
		}
		d.logger.Error("notification dropped",
			"task_id", ev.TaskID(), "sequence", ev.Sequence(), "error", deliveryErr)
		if d.deadLetter != nil {
			d.deadLetter(ev, deliveryErr)
		}
	}
}

// Close stops accepting new watches, lets watchers flush the backlog they
// have already recorded, then stops the workers and waits for in-flight
// deliveries to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.draining || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.draining = true
	cancels := make([]context.CancelFunc, 0, len(d.watching))
	for _, cancel := range d.watching {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if err := waitDone(ctx, d.watchers.Wait); err != nil {
		return fmt.Errorf("dispatcher shutdown: %w", err)
	}

	d.mu.Lock()
	d.closed = true
	for taskID, jobs := range d.workers {
		close(jobs)
		delete(d.workers, taskID)
	}
	d.mu.Unlock()

	if err := waitDone(ctx, func() { d.group.Wait() }); err != nil {
		return fmt.Errorf("dispatcher shutdown: %w", err)
	}
	return nil
}

// waitDone runs wait in a goroutine and returns early if ctx ends first.
func waitDone(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveWorkers returns the number of running delivery workers.
func (d *Dispatcher) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// runWorker delivers events for one task in order until the task's final
// event is delivered or the dispatcher is closed.
func (d *Dispatcher) runWorker(taskID string, jobs chan dawn.Event) {
	defer d.removeWorker(taskID, jobs)

	for ev := range jobs {
		// Re-read the config per delivery so replacing a registration
		// mid-task takes effect.
		config, err := d.configs.Get(context.Background(), taskID)
		if err != nil {
			continue
		}
		d.deliver(ev, config)

		if ev.Final() {
			return
		}
	}
}

// deliver runs one delivery with retries: the initial attempt plus
// MaxRetries retries with exponential, jittered backoff.
func (d *Dispatcher) deliver(ev dawn.Event, config *dawn.NotificationConfig) {
	attempts := config.Retry.MaxRetries + 1
	delay := config.Retry.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = d.sender.Send(context.Background(), ev, config)
		if lastErr == nil {
			if attempt > 1 {
				d.logger.Info("notification delivered after retry",
					"task_id", ev.TaskID(), "sequence", ev.Sequence(), "attempt", attempt)
			}
			return
		}
		if attempt == attempts {
			break
		}

		d.logger.Warn("notification attempt failed",
			"task_id", ev.TaskID(), "sequence", ev.Sequence(),
			"attempt", attempt, "error", lastErr)

		time.Sleep(jitter(delay))
		delay = time.Duration(float64(delay) * config.Retry.Multiplier)
		if delay > config.Retry.MaxBackoff {
			delay = config.Retry.MaxBackoff
		}
	}

	deliveryErr := dawn.DeliveryError{
		TaskID:   ev.TaskID(),
		URL:      config.URL,
		Attempts: attempts,
		Err:      lastErr,
	}
	d.logger.Error("notification abandoned",
		"task_id", ev.TaskID(), "sequence", ev.Sequence(), "error", deliveryErr)
	if d.deadLetter != nil {
		d.deadLetter(ev, deliveryErr)
	}
}

func (d *Dispatcher) removeWorker(taskID string, jobs chan dawn.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.workers[taskID]; ok && current == jobs {
		delete(d.workers, taskID)
	}
}

// jitter spreads a backoff delay by ±10% so synchronized failures do not
// retry in lockstep.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.9 + 0.2*rand.Float64()))
}
