// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"sync"
)

// ErrNoQueue is returned when a task has no event queue.
var ErrNoQueue = errors.New("no event queue for task")

// Manager owns the per-task event queues for one engine instance. It is
// explicitly constructed and injected so isolated instances can coexist in
// tests.
type Manager struct {
	mu      sync.RWMutex
	queues  map[string]*Queue
	maxSize int
}

// NewManager creates a Manager whose queues retain up to maxSize events
// each. If maxSize is not positive, DefaultMaxQueueSize is used.
func NewManager(maxSize int) *Manager {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	return &Manager{
		queues:  make(map[string]*Queue),
		maxSize: maxSize,
	}
}

// Get returns the queue for a task, creating it if necessary.
func (m *Manager) Get(taskID string) *Queue {
	m.mu.RLock()
	q, ok := m.queues[taskID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have created it between the locks.
	if q, ok = m.queues[taskID]; ok {
		return q
	}
	q = NewQueue(taskID, m.maxSize)
	m.queues[taskID] = q
	return q
}

// Lookup returns the queue for a task without creating one.
func (m *Manager) Lookup(taskID string) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[taskID]
	if !ok {
		return nil, ErrNoQueue
	}
	return q, nil
}

// Close closes and removes the queue for a task.
func (m *Manager) Close(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[taskID]
	if !ok {
		return ErrNoQueue
	}
	delete(m.queues, taskID)
	return q.Close()
}

// CloseAll closes every managed queue and clears the manager.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for taskID, q := range m.queues {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.queues, taskID)
	}
	return firstErr
}

// Count returns the number of managed queues.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}

// TaskIDs returns the ids of all tasks with active queues.
func (m *Manager) TaskIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	return ids
}
