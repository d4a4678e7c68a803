// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"sync"
	"testing"
)

func TestManager_GetCreatesOnce(t *testing.T) {
	t.Parallel()

	m := NewManager(0)

	const goroutines = 20
	queues := make([]*Queue, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			queues[i] = m.Get("task-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if queues[i] != queues[0] {
			t.Fatal("Get() returned different queues for the same task")
		}
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestManager_Lookup(t *testing.T) {
	t.Parallel()

	m := NewManager(0)

	if _, err := m.Lookup("missing"); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Lookup() error = %v, want %v", err, ErrNoQueue)
	}

	created := m.Get("task-1")
	found, err := m.Lookup("task-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if found != created {
		t.Error("Lookup() returned a different queue than Get()")
	}
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	q := m.Get("task-1")

	if err := m.Close("task-1"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !q.IsClosed() {
		t.Error("queue not closed after Manager.Close()")
	}
	if _, err := m.Lookup("task-1"); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Lookup() after Close error = %v, want %v", err, ErrNoQueue)
	}
	if err := m.Close("task-1"); !errors.Is(err, ErrNoQueue) {
		t.Errorf("second Close() error = %v, want %v", err, ErrNoQueue)
	}
}

func TestManager_CloseAll(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	q1 := m.Get("task-1")
	q2 := m.Get("task-2")

	if err := m.CloseAll(); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	if !q1.IsClosed() || !q2.IsClosed() {
		t.Error("queues not closed after CloseAll()")
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d after CloseAll(), want 0", m.Count())
	}
}
