// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dawn "github.com/emezac/dawn-sub000"
	"github.com/emezac/dawn-sub000/server/event"
)

// transitions is the lifecycle adjacency table. A requested move is legal
// iff the target state appears in the source state's row. Completed and
// Canceled have no row: they are terminal. Failed and Timeout admit only the
// retry path back to Working.
var transitions = map[dawn.TaskState][]dawn.TaskState{
	dawn.TaskStateSubmitted: {
		dawn.TaskStateQueued,
		dawn.TaskStateWorking,
		dawn.TaskStateCanceled,
	},
	dawn.TaskStateQueued: {
		dawn.TaskStateWorking,
		dawn.TaskStateCanceled,
		dawn.TaskStateBlocked,
	},
	dawn.TaskStateWorking: {
		dawn.TaskStateInputRequired,
		dawn.TaskStateWaiting,
		dawn.TaskStatePaused,
		dawn.TaskStateCompleted,
		dawn.TaskStateFailed,
		dawn.TaskStateCanceled,
		dawn.TaskStateTimeout,
		dawn.TaskStateBlocked,
		dawn.TaskStateSuspended,
	},
	dawn.TaskStateInputRequired: {dawn.TaskStateWorking, dawn.TaskStateCanceled},
	dawn.TaskStateWaiting:       {dawn.TaskStateWorking, dawn.TaskStateCanceled},
	dawn.TaskStatePaused:        {dawn.TaskStateWorking, dawn.TaskStateCanceled},
	dawn.TaskStateBlocked:       {dawn.TaskStateWorking, dawn.TaskStateCanceled},
	dawn.TaskStateSuspended:     {dawn.TaskStateWorking, dawn.TaskStateCanceled},
	dawn.TaskStateFailed:        {dawn.TaskStateWorking},
	dawn.TaskStateTimeout:       {dawn.TaskStateWorking},
	dawn.TaskStateCompleted:     {},
	dawn.TaskStateCanceled:      {},
}

// ValidTransitions returns the set of states reachable from state in one
// legal move. Callers may use it to pre-validate a transition.
func ValidTransitions(state dawn.TaskState) []dawn.TaskState {
	next, ok := transitions[state]
	if !ok {
		return nil
	}
	out := make([]dawn.TaskState, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to dawn.TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Lifecycle is the task state machine: the sole authority on state moves.
// Every mutation of a task's status goes through Transition, which holds a
// per-task lock so racing moves (cancel vs. complete) resolve to exactly one
// outcome.
type Lifecycle struct {
	store  Store
	queues *event.Manager
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLifecycle creates a state machine over the given store and queues.
func NewLifecycle(store Store, queues *event.Manager, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:  store,
		queues: queues,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// taskLock returns the mutex serializing mutations of one task.
func (l *Lifecycle) taskLock(taskID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[taskID] = lock
	}
	return lock
}

// ReleaseLock drops the per-task lock entry. Called when a task is deleted.
func (l *Lifecycle) ReleaseLock(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, taskID)
}

// Mutation adjusts a task alongside a state transition, under the same
// per-task lock. It runs after the move is validated and before the task is
// saved.
type Mutation func(*dawn.Task)

// Transition atomically moves a task to a new state, appends the transition
// to its history, persists it, and publishes a status update event. Either
// the move is legal and fully applied, or the stored task is left untouched
// and an InvalidTransitionError (or store error) is returned.
//
// The updated status is returned on success.
func (l *Lifecycle) Transition(ctx context.Context, taskID string, to dawn.TaskState, reason, actor string, mutations ...Mutation) (*dawn.TaskStatus, error) {
	lock := l.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	from := task.Status.State
	if !CanTransition(from, to) {
		return nil, dawn.InvalidTransitionError{TaskID: taskID, From: from, To: to}
	}

	now := time.Now().UTC()
	task.Status.State = to
	task.Status.Timestamp = now
	task.Status.Message = reason
	task.Status.History = append(task.Status.History, dawn.StateTransition{
		From:      from,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Actor:     actor,
	})

	switch to {
	case dawn.TaskStateWorking:
		if task.StartedAt.IsZero() {
			task.StartedAt = now
		}
		// A retry re-enters Working; clear the previous failure.
		task.Status.Error = ""
	case dawn.TaskStateCompleted, dawn.TaskStateCanceled, dawn.TaskStateFailed, dawn.TaskStateTimeout:
		task.CompletedAt = now
	}

	for _, m := range mutations {
		m(task)
	}

	if err := l.store.Save(ctx, task); err != nil {
		return nil, err
	}

	status := task.Status
	if _, err := l.queues.Get(taskID).Publish(&dawn.StatusUpdateEvent{
		ID:      taskID,
		Status:  status,
		IsFinal: to.IsTerminal(),
	}); err != nil {
		// The store is already updated; a full or closed queue must not
		// roll back the move. Subscribers of a closed queue have already
		// seen a final event.
		l.logger.Warn("status event not published",
			"task_id", taskID, "state", to, "error", err)
	}

	l.logger.Debug("task transitioned",
		"task_id", taskID, "from", from, "to", to, "actor", actor)

	return &status, nil
}

// PublishArtifact appends an artifact to the task under the per-task lock
// and publishes an artifact update event.
func (l *Lifecycle) PublishArtifact(ctx context.Context, taskID string, artifact dawn.Artifact) error {
	lock := l.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.State.IsTerminal() {
		return dawn.InvalidTransitionError{TaskID: taskID, From: task.Status.State, To: task.Status.State}
	}

	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	task.Artifacts = append(task.Artifacts, artifact)

	if err := l.store.Save(ctx, task); err != nil {
		return err
	}

	if _, err := l.queues.Get(taskID).Publish(&dawn.ArtifactUpdateEvent{
		ID:       taskID,
		Artifact: artifact,
		Append:   true,
	}); err != nil {
		l.logger.Warn("artifact event not published",
			"task_id", taskID, "artifact_id", artifact.ID, "error", err)
	}
	return nil
}

// SetProgress records a progress value on a non-terminal task and publishes
// the updated status. Unlike Transition it does not move the state.
func (l *Lifecycle) SetProgress(ctx context.Context, taskID string, progress float64) error {
	lock := l.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.State.IsTerminal() {
		return dawn.InvalidTransitionError{TaskID: taskID, From: task.Status.State, To: task.Status.State}
	}

	task.Status.Progress = &progress
	task.Status.Timestamp = time.Now().UTC()

	if err := l.store.Save(ctx, task); err != nil {
		return err
	}

	if _, err := l.queues.Get(taskID).Publish(&dawn.StatusUpdateEvent{
		ID:     taskID,
		Status: task.Status,
	}); err != nil {
		l.logger.Warn("progress event not published",
			"task_id", taskID, "error", err)
	}
	return nil
}
