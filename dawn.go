// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package dawn provides the core types for exchanging units of work
// ("tasks") between autonomous agents: the task lifecycle states, the
// sequenced event variants emitted as a task progresses, webhook
// notification configuration, and the protocol error taxonomy.
//
// The engine that drives these types lives under server/: the task store
// and state machine in server/task, the per-task event queues in
// server/event, live subscriber streaming in server/stream, webhook
// delivery in server/push, and the operation router in server/handler.
package dawn

// Version is the current version of the dawn task protocol.
const Version = "0.1.0"

// TaskState represents the lifecycle state of a Task.
type TaskState string

const (
	// TaskStateSubmitted indicates the task has been accepted but not picked up.
	TaskStateSubmitted TaskState = "submitted"

	// TaskStateQueued indicates the task is waiting for an execution slot.
	TaskStateQueued TaskState = "queued"

	// TaskStateWorking indicates the task is being worked on.
	TaskStateWorking TaskState = "working"

	// TaskStateInputRequired indicates the task is paused waiting for caller input.
	TaskStateInputRequired TaskState = "input_required"

	// TaskStateWaiting indicates the task is waiting on an external dependency.
	TaskStateWaiting TaskState = "waiting"

	// TaskStatePaused indicates the task has been paused by its caller.
	TaskStatePaused TaskState = "paused"

	// TaskStateBlocked indicates the task cannot proceed until unblocked.
	TaskStateBlocked TaskState = "blocked"

	// TaskStateSuspended indicates the task has been suspended by the runtime.
	TaskStateSuspended TaskState = "suspended"

	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "completed"

	// TaskStateCanceled indicates the task was canceled.
	TaskStateCanceled TaskState = "canceled"

	// TaskStateFailed indicates the task processing raised an error.
	TaskStateFailed TaskState = "failed"

	// TaskStateTimeout indicates the task exceeded its deadline.
	TaskStateTimeout TaskState = "timeout"
)

// IsTerminal reports whether s is a terminal state. Failed and Timeout are
// terminal for streaming purposes (the event stream closes) but remain
// retryable through the explicit retry operation.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a task in state s may be re-run via the
// retry operation.
func (s TaskState) IsRetryable() bool {
	return s == TaskStateFailed || s == TaskStateTimeout
}

// IsInterrupted reports whether s is one of the intermediate hold states a
// working task can enter and later resume from.
func (s TaskState) IsInterrupted() bool {
	switch s {
	case TaskStateInputRequired, TaskStateWaiting, TaskStatePaused, TaskStateBlocked, TaskStateSuspended:
		return true
	default:
		return false
	}
}
