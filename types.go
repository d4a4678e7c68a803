// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package dawn

import (
	"fmt"
	"time"
)

// Role identifies the author of a Message.
type Role string

// Valid message roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message represents a single message exchanged over a task.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Validate ensures the Message is valid.
func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAgent {
		return fmt.Errorf("invalid message role: %q", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	return nil
}

// Artifact represents an output produced while processing a task.
type Artifact struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitzero"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitzero"`
	CreatedAt time.Time      `json:"createdAt,omitzero"`
}

// Validate ensures the Artifact is valid.
func (a Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact ID cannot be empty")
	}
	if a.Content == "" {
		return fmt.Errorf("artifact content cannot be empty")
	}
	return nil
}

// StateTransition records a single move through the task lifecycle.
type StateTransition struct {
	From      TaskState `json:"from"`
	To        TaskState `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitzero"`
	Actor     string    `json:"actor,omitzero"`
}

// TaskStatus is the authoritative current status of a task, including the
// ordered history of every transition it has gone through.
type TaskStatus struct {
	State     TaskState         `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitzero"`
	Progress  *float64          `json:"progress,omitzero"`
	Error     string            `json:"error,omitzero"`
	History   []StateTransition `json:"history,omitzero"`
}

// Validate ensures the TaskStatus is valid.
func (s TaskStatus) Validate() error {
	if s.State == "" {
		return fmt.Errorf("task status state cannot be empty")
	}
	if s.Progress != nil && (*s.Progress < 0 || *s.Progress > 1) {
		return fmt.Errorf("task progress must be within [0, 1], got %v", *s.Progress)
	}
	return nil
}

// Task represents a unit of work tracked through the lifecycle state machine.
// A Task is owned by the task store; callers receive snapshots, never a live
// reference.
type Task struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId,omitzero"`
	ParentID    string         `json:"parentId,omitzero"`
	Status      TaskStatus     `json:"status"`
	Input       Message        `json:"input"`
	History     []Message      `json:"history,omitzero"`
	Artifacts   []Artifact     `json:"artifacts,omitzero"`
	Priority    int            `json:"priority,omitzero"`
	Timeout     time.Duration  `json:"timeout,omitzero"`
	Metadata    map[string]any `json:"metadata,omitzero"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   time.Time      `json:"startedAt,omitzero"`
	CompletedAt time.Time      `json:"completedAt,omitzero"`
}

// Validate ensures the Task is valid.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("task status is invalid: %w", err)
	}
	if err := t.Input.Validate(); err != nil {
		return fmt.Errorf("task input is invalid: %w", err)
	}
	return nil
}

// Snapshot returns an immutable point-in-time view of the task suitable for
// returning to external callers.
func (t *Task) Snapshot() *TaskSnapshot {
	snap := &TaskSnapshot{
		ID:        t.ID,
		State:     t.Status.State,
		Timestamp: t.Status.Timestamp,
		Message:   t.Status.Message,
		Progress:  t.Status.Progress,
		Error:     t.Status.Error,
	}
	if len(t.Artifacts) > 0 {
		snap.Artifacts = make([]Artifact, len(t.Artifacts))
		copy(snap.Artifacts, t.Artifacts)
	}
	if len(t.Metadata) > 0 {
		snap.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			snap.Metadata[k] = v
		}
	}
	return snap
}

// TaskSnapshot is the externally visible view of a task. It carries copies of
// the task's mutable fields so callers never hold a reference into live state.
type TaskSnapshot struct {
	ID        string            `json:"id"`
	State     TaskState         `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitzero"`
	Progress  *float64          `json:"progress,omitzero"`
	Error     string            `json:"error,omitzero"`
	Artifacts []Artifact        `json:"artifacts,omitzero"`
	Metadata  map[string]any    `json:"metadata,omitzero"`
	History   []StateTransition `json:"history,omitzero"`
}

// RetryPolicy controls webhook delivery retries. Attempts total
// MaxRetries+1: the initial try plus MaxRetries retries.
type RetryPolicy struct {
	MaxRetries     int           `json:"maxRetries"`
	InitialBackoff time.Duration `json:"initialBackoff,omitzero"`
	MaxBackoff     time.Duration `json:"maxBackoff,omitzero"`
	Multiplier     float64       `json:"multiplier,omitzero"`
}

// Default retry policy values applied by NotificationConfig.Validate.
const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMultiplier     = 2.0
)

// NotificationConfig describes the webhook endpoint registered to receive a
// task's events, along with its authentication and retry policy.
type NotificationConfig struct {
	// URL is the webhook endpoint events are POSTed to.
	URL string `json:"url"`

	// Token, if set, is echoed back in the X-Dawn-Notification-Token header
	// so the receiver can correlate deliveries with its registration.
	Token string `json:"token,omitzero"`

	// SigningKey, if set, is the HS256 secret used to sign each delivery
	// with a JWT carried in the Authorization header.
	SigningKey string `json:"signingKey,omitzero"`

	// Retry is the delivery retry policy for this endpoint.
	Retry RetryPolicy `json:"retry,omitzero"`
}

// Validate ensures the NotificationConfig is valid and fills retry defaults.
func (c *NotificationConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("notification URL cannot be empty")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("notification max retries cannot be negative")
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = DefaultInitialBackoff
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = DefaultMaxBackoff
	}
	if c.Retry.Multiplier <= 1 {
		c.Retry.Multiplier = DefaultMultiplier
	}
	return nil
}
