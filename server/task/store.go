// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package task implements the authoritative task store, the lifecycle state
// machine that is the only code path allowed to move a task between states,
// and the executor that runs external processing against the machine.
package task

import (
	"context"

	dawn "github.com/emezac/dawn-sub000"
)

// Store is the authoritative record of tasks. Implementations must be safe
// for concurrent use and must hand out copies: a value returned by Get is
// never a live reference into stored state.
type Store interface {
	// Create persists a new task. It fails with DuplicateTaskError if the
	// id is already taken.
	Create(ctx context.Context, task *dawn.Task) error

	// Save persists a task, replacing any existing record with the same id.
	Save(ctx context.Context, task *dawn.Task) error

	// Get retrieves a copy of a task by id, or TaskNotFoundError.
	Get(ctx context.Context, taskID string) (*dawn.Task, error)

	// Delete removes a task, or TaskNotFoundError.
	Delete(ctx context.Context, taskID string) error

	// List retrieves tasks filtered by session id (empty for all), with
	// limit/offset paging.
	List(ctx context.Context, sessionID string, limit, offset int) ([]*dawn.Task, error)

	// Count returns the number of stored tasks for a session (empty for all).
	Count(ctx context.Context, sessionID string) (int64, error)

	// Initialize prepares the store for use.
	Initialize(ctx context.Context) error

	// Close cleanly shuts down the store.
	Close(ctx context.Context) error
}
