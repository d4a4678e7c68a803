// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	dawn "github.com/emezac/dawn-sub000"
)

// DefaultTaskTimeout bounds processing for tasks that do not set their own.
const DefaultTaskTimeout = 5 * time.Minute

// DefaultMaxConcurrent is the default cap on tasks processed at once.
const DefaultMaxConcurrent = 16

// Reporter lets a processor publish intermediate results while a task is
// running. Both methods fail once the task has reached a terminal state.
type Reporter interface {
	// Progress records a completion fraction in [0, 1] on the task status.
	Progress(ctx context.Context, progress float64) error

	// Artifact appends an output artifact to the task and publishes it to
	// the task's event stream.
	Artifact(ctx context.Context, artifact dawn.Artifact) error
}

// Processor is the external work function the executor drives. It receives a
// copy of the task and must honor ctx cancellation: the context is canceled
// on tasks/cancel and expires at the task's processing deadline.
type Processor interface {
	Process(ctx context.Context, task *dawn.Task, reporter Reporter) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, task *dawn.Task, reporter Reporter) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, task *dawn.Task, reporter Reporter) error {
	return f(ctx, task, reporter)
}

// ExecutorOptions configures an Executor. The zero value selects defaults.
type ExecutorOptions struct {
	// MaxConcurrent caps how many tasks run at once. Submissions beyond the
	// cap wait in the Queued state. Defaults to DefaultMaxConcurrent.
	MaxConcurrent int64

	// DefaultTimeout bounds processing for tasks with no Timeout of their
	// own. Defaults to DefaultTaskTimeout.
	DefaultTimeout time.Duration

	// Logger receives executor lifecycle logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Executor accepts task submissions and drives the external processor
// against the lifecycle state machine. Submission is asynchronous: Submit
// returns as soon as the task is durable in the Submitted state, and the
// outcome is reported through status events, never through Submit's error.
type Executor struct {
	store     Store
	lifecycle *Lifecycle
	processor Processor
	logger    *slog.Logger

	sem            *semaphore.Weighted
	defaultTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewExecutor creates an Executor over the given store and state machine.
func NewExecutor(store Store, lifecycle *Lifecycle, processor Processor, opts ExecutorOptions) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTaskTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		store:          store,
		lifecycle:      lifecycle,
		processor:      processor,
		logger:         opts.Logger,
		sem:            semaphore.NewWeighted(opts.MaxConcurrent),
		defaultTimeout: opts.DefaultTimeout,
		running:        make(map[string]context.CancelFunc),
	}
}

// Submit validates and persists a new task in the Submitted state, publishes
// its first status event, and starts processing in the background. A reused
// task id fails with DuplicateTaskError; resubmission never restarts an
// existing task.
func (e *Executor) Submit(ctx context.Context, task *dawn.Task) (*dawn.TaskSnapshot, error) {
	if task == nil {
		return nil, dawn.ValidationError{Msg: "task cannot be nil"}
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.StartedAt = time.Time{}
	task.CompletedAt = time.Time{}
	task.Status = dawn.TaskStatus{
		State:     dawn.TaskStateSubmitted,
		Timestamp: now,
	}
	if task.Input.CreatedAt.IsZero() {
		task.Input.CreatedAt = now
	}

	if err := task.Validate(); err != nil {
		return nil, dawn.ValidationError{Msg: err.Error()}
	}

	if err := e.store.Create(ctx, task); err != nil {
		return nil, err
	}

	if _, err := e.lifecycle.queues.Get(task.ID).Publish(&dawn.StatusUpdateEvent{
		ID:     task.ID,
		Status: task.Status,
	}); err != nil {
		e.logger.Warn("submit event not published", "task_id", task.ID, "error", err)
	}

	e.start(task.ID, dawn.TaskStateSubmitted)
	return task.Snapshot(), nil
}

// Retry restarts a task that ended in Failed or Timeout. The task re-enters
// Working through the retry edge of the transition table and is processed
// again from its stored input.
func (e *Executor) Retry(ctx context.Context, taskID string) (*dawn.TaskSnapshot, error) {
	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.State.IsRetryable() {
		return nil, dawn.InvalidTransitionError{
			TaskID: taskID,
			From:   task.Status.State,
			To:     dawn.TaskStateWorking,
		}
	}

	e.start(taskID, task.Status.State)
	return task.Snapshot(), nil
}

// Resume moves an interrupted task (input_required, waiting, paused, blocked,
// suspended) back to Working, appending the supplied message to its history,
// and restarts processing.
func (e *Executor) Resume(ctx context.Context, taskID string, msg *dawn.Message) (*dawn.TaskSnapshot, error) {
	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.State.IsInterrupted() {
		return nil, dawn.InvalidTransitionError{
			TaskID: taskID,
			From:   task.Status.State,
			To:     dawn.TaskStateWorking,
		}
	}

	var mutations []Mutation
	if msg != nil {
		if err := msg.Validate(); err != nil {
			return nil, dawn.ValidationError{Msg: err.Error()}
		}
		m := *msg
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		mutations = append(mutations, func(t *dawn.Task) {
			t.History = append(t.History, m)
		})
	}

	if _, err := e.lifecycle.Transition(ctx, taskID, dawn.TaskStateWorking, "resumed", "client", mutations...); err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		e.run(taskID)
	}()

	task, err = e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task.Snapshot(), nil
}

// Cancel requests cancellation of a task, recording reason as the status
// message (or a default when empty). The state moves to Canceled first, then
// any in-flight processing context is canceled; a task already terminal
// fails with TaskNotCancelableError. Cancellation of a task racing with its
// own completion resolves through the transition table: exactly one terminal
// move wins.
func (e *Executor) Cancel(ctx context.Context, taskID, reason string) (*dawn.TaskSnapshot, error) {
	if reason == "" {
		reason = "canceled by client"
	}
	if _, err := e.lifecycle.Transition(ctx, taskID, dawn.TaskStateCanceled, reason, "client"); err != nil {
		var invalid dawn.InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, dawn.TaskNotCancelableError{TaskID: taskID, State: invalid.From}
		}
		return nil, err
	}

	e.mu.Lock()
	cancel, ok := e.running[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task.Snapshot(), nil
}

// Running reports whether a task currently has an in-flight processing
// goroutine.
func (e *Executor) Running(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

// Close waits for all in-flight tasks to finish or ctx to end.
func (e *Executor) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}

// start launches the background run for a task admitted in fromState. If the
// concurrency cap is reached the task parks in Queued until a slot frees.
func (e *Executor) start(taskID string, fromState dawn.TaskState) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx := context.Background()

		if !e.sem.TryAcquire(1) {
			if fromState == dawn.TaskStateSubmitted {
				if _, err := e.lifecycle.Transition(ctx, taskID, dawn.TaskStateQueued, "waiting for execution slot", "executor"); err != nil {
					// Canceled while parked, or deleted.
					return
				}
			}
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
		}
		defer e.sem.Release(1)

		if _, err := e.lifecycle.Transition(ctx, taskID, dawn.TaskStateWorking, "processing started", "executor"); err != nil {
			// Lost the race to a cancel; nothing to run.
			e.logger.Debug("task not started", "task_id", taskID, "error", err)
			return
		}

		e.run(taskID)
	}()
}

// run drives one processing attempt for a task already in Working. It must
// be called with a semaphore slot held by start, or from Resume where the
// caller performed the Working transition itself.
func (e *Executor) run(taskID string) {
	ctx := context.Background()

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		e.logger.Error("task vanished before processing", "task_id", taskID, "error", err)
		return
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.mu.Lock()
	e.running[taskID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, taskID)
		e.mu.Unlock()
	}()

	reporter := &lifecycleReporter{taskID: taskID, lifecycle: e.lifecycle}
	procErr := e.safeProcess(runCtx, task, reporter)

	switch {
	case procErr == nil:
		e.finish(ctx, taskID, dawn.TaskStateCompleted, "processing completed", "")
	case errors.Is(procErr, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded:
		timeoutErr := dawn.TimeoutError{TaskID: taskID}
		e.finish(ctx, taskID, dawn.TaskStateTimeout, "processing deadline exceeded", timeoutErr.Error())
	case errors.Is(procErr, context.Canceled):
		// The cancel path already moved the task to Canceled.
		e.logger.Debug("processing canceled", "task_id", taskID)
	case isInterruption(procErr):
		e.interrupt(ctx, taskID, procErr)
	default:
		execErr := dawn.ExecutionError{TaskID: taskID, Err: procErr}
		e.finish(ctx, taskID, dawn.TaskStateFailed, "processing failed", execErr.Error())
	}
}

// safeProcess invokes the processor, converting a panic into an error so a
// broken processor fails one task instead of the process.
func (e *Executor) safeProcess(ctx context.Context, task *dawn.Task, reporter Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
			e.logger.Error("processor panicked", "task_id", task.ID, "panic", r)
		}
	}()
	return e.processor.Process(ctx, task, reporter)
}

// finish records a terminal outcome. Losing the race against a concurrent
// cancel yields an InvalidTransitionError, which is dropped: the winning
// terminal state stands.
func (e *Executor) finish(ctx context.Context, taskID string, to dawn.TaskState, reason, errMsg string) {
	var mutations []Mutation
	if errMsg != "" {
		mutations = append(mutations, func(t *dawn.Task) {
			t.Status.Error = errMsg
		})
	}
	if _, err := e.lifecycle.Transition(ctx, taskID, to, reason, "executor", mutations...); err != nil {
		var invalid dawn.InvalidTransitionError
		if errors.As(err, &invalid) {
			e.logger.Debug("terminal outcome lost race", "task_id", taskID, "wanted", to, "actual", invalid.From)
			return
		}
		e.logger.Error("terminal transition failed", "task_id", taskID, "state", to, "error", err)
	}
}

// interrupt parks the task in the hold state requested by the processor.
func (e *Executor) interrupt(ctx context.Context, taskID string, procErr error) {
	var hold InterruptionError
	errors.As(procErr, &hold)
	if _, err := e.lifecycle.Transition(ctx, taskID, hold.State, hold.Reason, "executor"); err != nil {
		e.logger.Error("interruption transition failed", "task_id", taskID, "state", hold.State, "error", err)
	}
}

// InterruptionError is returned by a processor to park its task in one of
// the non-terminal hold states (input_required, waiting, paused, blocked,
// suspended) instead of finishing. Processing resumes through tasks/send
// with a follow-up message.
type InterruptionError struct {
	State  dawn.TaskState
	Reason string
}

// Error returns the error message.
func (e InterruptionError) Error() string {
	return fmt.Sprintf("task interrupted: %s (%s)", e.State, e.Reason)
}

func isInterruption(err error) bool {
	var hold InterruptionError
	return errors.As(err, &hold) && hold.State.IsInterrupted()
}

// lifecycleReporter implements Reporter against the state machine so
// intermediate results go through the same locked, event-publishing path as
// state moves.
type lifecycleReporter struct {
	taskID    string
	lifecycle *Lifecycle
}

func (r *lifecycleReporter) Progress(ctx context.Context, progress float64) error {
	if progress < 0 || progress > 1 {
		return dawn.ValidationError{Msg: fmt.Sprintf("progress must be within [0, 1], got %v", progress)}
	}
	return r.lifecycle.SetProgress(ctx, r.taskID, progress)
}

func (r *lifecycleReporter) Artifact(ctx context.Context, artifact dawn.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if err := artifact.Validate(); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}
	return r.lifecycle.PublishArtifact(ctx, r.taskID, artifact)
}
