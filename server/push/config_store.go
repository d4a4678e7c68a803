// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package push implements webhook notification delivery: registered
// endpoints receive every event of their task over HTTP POST, at least once,
// in per-task order, with retries that never touch task state.
package push

import (
	"context"
	"sync"

	dawn "github.com/emezac/dawn-sub000"
)

// ConfigStore manages the webhook registration of each task.
type ConfigStore interface {
	// Set registers or replaces the notification config for a task.
	Set(ctx context.Context, taskID string, config *dawn.NotificationConfig) error

	// Get retrieves the notification config for a task, or
	// TaskNotFoundError when none is registered.
	Get(ctx context.Context, taskID string) (*dawn.NotificationConfig, error)

	// Delete removes the notification config for a task.
	Delete(ctx context.Context, taskID string) error
}

// InMemoryConfigStore is an in-memory implementation of ConfigStore.
type InMemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]dawn.NotificationConfig
}

var _ ConfigStore = (*InMemoryConfigStore)(nil)

// NewInMemoryConfigStore creates a new InMemoryConfigStore.
func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{
		configs: make(map[string]dawn.NotificationConfig),
	}
}

// Set registers or replaces the notification config for a task.
func (s *InMemoryConfigStore) Set(ctx context.Context, taskID string, config *dawn.NotificationConfig) error {
	if taskID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	if config == nil {
		return dawn.ValidationError{Msg: "notification config cannot be nil"}
	}
	if err := config.Validate(); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[taskID] = *config
	return nil
}

// Get retrieves a copy of the notification config for a task.
func (s *InMemoryConfigStore) Get(ctx context.Context, taskID string) (*dawn.NotificationConfig, error) {
	if taskID == "" {
		return nil, dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	config, ok := s.configs[taskID]
	if !ok {
		return nil, dawn.TaskNotFoundError{TaskID: taskID}
	}
	c := config
	return &c, nil
}

// Delete removes the notification config for a task.
func (s *InMemoryConfigStore) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[taskID]; !ok {
		return dawn.TaskNotFoundError{TaskID: taskID}
	}
	delete(s.configs, taskID)
	return nil
}
