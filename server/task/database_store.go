// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	dawn "github.com/emezac/dawn-sub000"
)

// DatabaseStore is a GORM-backed implementation of Store for deployments
// where tasks must survive a restart.
type DatabaseStore struct {
	db          *gorm.DB
	createTable bool
}

var _ Store = (*DatabaseStore)(nil)

// DatabaseStoreConfig holds configuration for DatabaseStore.
type DatabaseStoreConfig struct {
	DB *gorm.DB

	// CreateTable runs the schema migration during Initialize.
	CreateTable bool
}

// NewDatabaseStore creates a DatabaseStore over an open GORM connection.
func NewDatabaseStore(config DatabaseStoreConfig) (*DatabaseStore, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &DatabaseStore{
		db:          config.DB,
		createTable: config.CreateTable,
	}, nil
}

// Create persists a new task, rejecting duplicate ids.
func (s *DatabaseStore) Create(ctx context.Context, task *dawn.Task) error {
	model, err := NewTaskModelFromTask(task)
	if err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&TaskModel{}).Where("id = ?", task.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	if count > 0 {
		return dawn.DuplicateTaskError{TaskID: task.ID}
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dawn.DuplicateTaskError{TaskID: task.ID}
		}
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

// Save persists a task, replacing any existing record.
func (s *DatabaseStore) Save(ctx context.Context, task *dawn.Task) error {
	model, err := NewTaskModelFromTask(task)
	if err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}

	if err := s.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// Get retrieves a task by id.
func (s *DatabaseStore) Get(ctx context.Context, taskID string) (*dawn.Task, error) {
	if taskID == "" {
		return nil, dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	var model TaskModel
	if err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dawn.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return model.ToTask()
}

// Delete removes a task.
func (s *DatabaseStore) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}

	result := s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&TaskModel{})
	if result.Error != nil {
		return fmt.Errorf("delete task %s: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return dawn.TaskNotFoundError{TaskID: taskID}
	}
	return nil
}

// List retrieves tasks with optional session filtering and paging, oldest
// first.
func (s *DatabaseStore) List(ctx context.Context, sessionID string, limit, offset int) ([]*dawn.Task, error) {
	db := s.db.WithContext(ctx)
	if sessionID != "" {
		db = db.Where("session_id = ?", sessionID)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	if offset > 0 {
		db = db.Offset(offset)
	}

	var models []TaskModel
	if err := db.Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	tasks := make([]*dawn.Task, len(models))
	for i := range models {
		task, err := models[i].ToTask()
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks[i] = task
	}
	return tasks, nil
}

// Count returns the number of stored tasks for a session.
func (s *DatabaseStore) Count(ctx context.Context, sessionID string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&TaskModel{})
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// ListByState retrieves tasks in a given lifecycle state using the
// denormalized state column. Used at startup to find work interrupted by a
// crash.
func (s *DatabaseStore) ListByState(ctx context.Context, state dawn.TaskState) ([]*dawn.Task, error) {
	var models []TaskModel
	if err := s.db.WithContext(ctx).Where("state = ?", string(state)).Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list tasks by state %s: %w", state, err)
	}

	tasks := make([]*dawn.Task, len(models))
	for i := range models {
		task, err := models[i].ToTask()
		if err != nil {
			return nil, fmt.Errorf("list tasks by state %s: %w", state, err)
		}
		tasks[i] = task
	}
	return tasks, nil
}

// Initialize migrates the schema when CreateTable is set.
func (s *DatabaseStore) Initialize(ctx context.Context) error {
	if !s.createTable {
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&TaskModel{}); err != nil {
		return fmt.Errorf("migrate tasks table: %w", err)
	}
	return nil
}

// Close cleanly shuts down the store. The underlying connection is owned by
// the caller.
func (s *DatabaseStore) Close(ctx context.Context) error {
	return nil
}

// Transaction executes fn within a database transaction, passing a Store
// bound to the transaction.
func (s *DatabaseStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DatabaseStore{db: tx, createTable: s.createTable})
	})
}
