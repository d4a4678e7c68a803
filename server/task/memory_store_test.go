// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	dawn "github.com/emezac/dawn-sub000"
)

func TestInMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, newTestTask("task-1", dawn.TaskStateSubmitted)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := store.Create(ctx, newTestTask("task-1", dawn.TaskStateSubmitted))
	var dup dawn.DuplicateTaskError
	if !errors.As(err, &dup) {
		t.Fatalf("Create() duplicate error = %v, want DuplicateTaskError", err)
	}
	if dup.Code() != dawn.ErrorCodeDuplicateTask {
		t.Errorf("error code = %d, want %d", dup.Code(), dawn.ErrorCodeDuplicateTask)
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	task := newTestTask("task-1", dawn.TaskStateWorking)
	task.Metadata = map[string]any{"k": "v"}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Mutating the returned copy must not leak into stored state.
	got.Status.State = dawn.TaskStateFailed
	got.Metadata["k"] = "mutated"
	got.Artifacts = append(got.Artifacts, dawn.Artifact{ID: "a", Content: "x"})

	stored, _ := store.Get(ctx, "task-1")
	if stored.Status.State != dawn.TaskStateWorking {
		t.Errorf("stored state = %s, want working", stored.Status.State)
	}
	if stored.Metadata["k"] != "v" {
		t.Errorf("stored metadata = %v, want original", stored.Metadata)
	}
	if len(stored.Artifacts) != 0 {
		t.Errorf("stored artifacts = %v, want none", stored.Artifacts)
	}
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	var notFound dawn.TaskNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Get() error = %v, want TaskNotFoundError", err)
	}
}

func TestInMemoryStore_SaveRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	task := newTestTask("task-1", dawn.TaskStateSubmitted)
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	task.Status.State = dawn.TaskStateWorking
	task.History = append(task.History, dawn.Message{Role: dawn.RoleAgent, Content: "working on it"})
	if err := store.Save(ctx, task); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(task, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, newTestTask("task-1", dawn.TaskStateSubmitted)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Size() != 0 {
		t.Errorf("Size() = %d after delete, want 0", store.Size())
	}

	var notFound dawn.TaskNotFoundError
	if err := store.Delete(ctx, "task-1"); !errors.As(err, &notFound) {
		t.Errorf("second Delete() error = %v, want TaskNotFoundError", err)
	}
}

func TestInMemoryStore_ListAndCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	for i := range 5 {
		task := newTestTask(fmt.Sprintf("task-%d", i), dawn.TaskStateSubmitted)
		if i < 3 {
			task.SessionID = "session-a"
		} else {
			task.SessionID = "session-b"
		}
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := map[string]struct {
		sessionID string
		limit     int
		wantLen   int
		wantCount int64
	}{
		"all":             {sessionID: "", limit: 0, wantLen: 5, wantCount: 5},
		"session filter":  {sessionID: "session-a", limit: 0, wantLen: 3, wantCount: 3},
		"limit":           {sessionID: "", limit: 2, wantLen: 2, wantCount: 5},
		"missing session": {sessionID: "session-z", limit: 0, wantLen: 0, wantCount: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tasks, err := store.List(ctx, tt.sessionID, tt.limit, 0)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(tasks) != tt.wantLen {
				t.Errorf("len(List()) = %d, want %d", len(tasks), tt.wantLen)
			}

			count, err := store.Count(ctx, tt.sessionID)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if count != tt.wantCount {
				t.Errorf("Count() = %d, want %d", count, tt.wantCount)
			}
		})
	}
}

func TestInMemoryStore_ListOrdersAndPagesDeterministically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	// Insert out of creation order; List must still return tasks oldest
	// first, the same way every call.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, i := range []int{3, 0, 4, 1, 2} {
		task := newTestTask(fmt.Sprintf("task-%d", i), dawn.TaskStateSubmitted)
		task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	wantIDs := []string{"task-0", "task-1", "task-2", "task-3", "task-4"}
	listIDs := func(limit, offset int) []string {
		tasks, err := store.List(ctx, "", limit, offset)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		ids := make([]string, len(tasks))
		for i, task := range tasks {
			ids[i] = task.ID
		}
		return ids
	}

	for range 10 {
		if diff := cmp.Diff(wantIDs, listIDs(0, 0)); diff != "" {
			t.Fatalf("List() order mismatch (-want +got):\n%s", diff)
		}
	}

	// Walking pages of two covers every task exactly once.
	var paged []string
	for offset := 0; offset < len(wantIDs); offset += 2 {
		paged = append(paged, listIDs(2, offset)...)
	}
	if diff := cmp.Diff(wantIDs, paged); diff != "" {
		t.Errorf("paged walk mismatch (-want +got):\n%s", diff)
	}

	if got := listIDs(0, len(wantIDs)+1); len(got) != 0 {
		t.Errorf("List() past the end = %v, want empty", got)
	}
}

func TestInMemoryStore_ValidationErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, &dawn.Task{}); err == nil {
		t.Error("Create() with invalid task succeeded, want error")
	}
	if _, err := store.Get(ctx, ""); err == nil {
		t.Error("Get() with empty id succeeded, want error")
	}
}
