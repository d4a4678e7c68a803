// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	dawn "github.com/emezac/dawn-sub000"
)

// InMemoryStore is an in-memory implementation of Store. Task data is lost
// when the process stops. All operations are thread-safe using sync.RWMutex
// and every read returns a deep copy.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*dawn.Task
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*dawn.Task),
	}
}

// Create persists a new task, rejecting duplicate ids.
func (s *InMemoryStore) Create(ctx context.Context, task *dawn.Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if err := task.Validate(); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return dawn.DuplicateTaskError{TaskID: task.ID}
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// Save persists a task, replacing any existing record.
func (s *InMemoryStore) Save(ctx context.Context, task *dawn.Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if err := task.Validate(); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = copyTask(task)
	return nil
}

// Get retrieves a deep copy of a task by id.
func (s *InMemoryStore) Get(ctx context.Context, taskID string) (*dawn.Task, error) {
	if taskID == "" {
		return nil, dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, dawn.TaskNotFoundError{TaskID: taskID}
	}
	return copyTask(task), nil
}

// Delete removes a task.
func (s *InMemoryStore) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; !exists {
		return dawn.TaskNotFoundError{TaskID: taskID}
	}
	delete(s.tasks, taskID)
	return nil
}

// List retrieves tasks with optional session filtering and paging, ordered
// by creation time so pages are stable across calls.
func (s *InMemoryStore) List(ctx context.Context, sessionID string, limit, offset int) ([]*dawn.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*dawn.Task
	for _, task := range s.tasks {
		if sessionID != "" && task.SessionID != sessionID {
			continue
		}
		matched = append(matched, task)
	}
	slices.SortFunc(matched, func(a, b *dawn.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	tasks := make([]*dawn.Task, len(matched))
	for i, task := range matched {
		tasks[i] = copyTask(task)
	}
	return tasks, nil
}

// Count returns the number of stored tasks for a session.
func (s *InMemoryStore) Count(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sessionID == "" {
		return int64(len(s.tasks)), nil
	}
	var count int64
	for _, task := range s.tasks {
		if task.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// Initialize prepares the in-memory storage for use.
func (s *InMemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Close clears all tasks.
func (s *InMemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*dawn.Task)
	return nil
}

// Size returns the current number of stored tasks. Useful for tests.
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// copyTask creates a deep copy so no caller holds a reference into stored
// state.
func copyTask(task *dawn.Task) *dawn.Task {
	if task == nil {
		return nil
	}

	c := *task

	if task.Status.History != nil {
		c.Status.History = make([]dawn.StateTransition, len(task.Status.History))
		copy(c.Status.History, task.Status.History)
	}
	if task.Status.Progress != nil {
		p := *task.Status.Progress
		c.Status.Progress = &p
	}
	if task.History != nil {
		c.History = make([]dawn.Message, len(task.History))
		copy(c.History, task.History)
	}
	if task.Artifacts != nil {
		c.Artifacts = make([]dawn.Artifact, len(task.Artifacts))
		copy(c.Artifacts, task.Artifacts)
	}
	if task.Metadata != nil {
		c.Metadata = make(map[string]any, len(task.Metadata))
		for k, v := range task.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
