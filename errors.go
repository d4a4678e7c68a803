// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package dawn

import "fmt"

// Stable machine-readable error codes, JSON-RPC style.
const (
	ErrorCodeInvalidParams     = -32602
	ErrorCodeMethodNotFound    = -32601
	ErrorCodeInternalError     = -32603
	ErrorCodeTaskNotFound      = -32001
	ErrorCodeTaskNotCancelable = -32002
	ErrorCodeInvalidTransition = -32003
	ErrorCodeDuplicateTask     = -32004
	ErrorCodeExecutionFailed   = -32005
	ErrorCodeExecutionTimeout  = -32006
)

// Error is the interface implemented by all coded protocol errors.
type Error interface {
	error
	Code() int
}

// ValidationError indicates malformed operation parameters.
type ValidationError struct {
	Msg string
}

// Error returns the error message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid params: %s", e.Msg)
}

// Code returns the error code.
func (e ValidationError) Code() int { return ErrorCodeInvalidParams }

// MethodNotFoundError indicates an unknown operation method.
type MethodNotFoundError struct {
	Method string
}

// Error returns the error message.
func (e MethodNotFoundError) Error() string {
	return fmt.Sprintf("method not found: %s", e.Method)
}

// Code returns the error code.
func (e MethodNotFoundError) Code() int { return ErrorCodeMethodNotFound }

// TaskNotFoundError indicates the requested task ID is unknown.
type TaskNotFoundError struct {
	TaskID string
}

// Error returns the error message.
func (e TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// Code returns the error code.
func (e TaskNotFoundError) Code() int { return ErrorCodeTaskNotFound }

// TaskNotCancelableError indicates a cancel request against a task already in
// a terminal state.
type TaskNotCancelableError struct {
	TaskID string
	State  TaskState
}

// Error returns the error message.
func (e TaskNotCancelableError) Error() string {
	return fmt.Sprintf("task %s cannot be canceled: already in state %s", e.TaskID, e.State)
}

// Code returns the error code.
func (e TaskNotCancelableError) Code() int { return ErrorCodeTaskNotCancelable }

// InvalidTransitionError indicates a requested state move that is not in the
// lifecycle transition table. The task is left unchanged.
type InvalidTransitionError struct {
	TaskID string
	From   TaskState
	To     TaskState
}

// Error returns the error message naming the illegal pair.
func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// Code returns the error code.
func (e InvalidTransitionError) Code() int { return ErrorCodeInvalidTransition }

// DuplicateTaskError indicates a submission reusing an existing task ID.
type DuplicateTaskError struct {
	TaskID string
}

// Error returns the error message.
func (e DuplicateTaskError) Error() string {
	return fmt.Sprintf("task already exists: %s", e.TaskID)
}

// Code returns the error code.
func (e DuplicateTaskError) Code() int { return ErrorCodeDuplicateTask }

// ExecutionError records a failure raised by the external processing
// function. It is recorded on the task status and surfaced asynchronously,
// never returned from submit.
type ExecutionError struct {
	TaskID string
	Err    error
}

// Error returns the error message.
func (e ExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.TaskID, e.Err)
}

// Code returns the error code.
func (e ExecutionError) Code() int { return ErrorCodeExecutionFailed }

// Unwrap returns the underlying error.
func (e ExecutionError) Unwrap() error { return e.Err }

// TimeoutError records a task exceeding its processing deadline.
type TimeoutError struct {
	TaskID string
}

// Error returns the error message.
func (e TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out", e.TaskID)
}

// Code returns the error code.
func (e TimeoutError) Code() int { return ErrorCodeExecutionTimeout }

// DeliveryError records a webhook delivery failure. It is internal to the
// notification dispatcher: delivery failures are retried per policy and never
// affect task state or surface to callers.
type DeliveryError struct {
	TaskID   string
	URL      string
	Attempts int
	Err      error
}

// Error returns the error message.
func (e DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s for task %s failed after %d attempts: %v", e.URL, e.TaskID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e DeliveryError) Unwrap() error { return e.Err }

// InternalError wraps an unexpected failure caught at a component boundary.
type InternalError struct {
	Msg string
}

// Error returns the error message.
func (e InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Msg)
}

// Code returns the error code.
func (e InternalError) Code() int { return ErrorCodeInternalError }
