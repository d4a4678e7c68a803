// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	dawn "github.com/emezac/dawn-sub000"
)

// StatusJSON stores a TaskStatus as a JSON column.
type StatusJSON struct {
	dawn.TaskStatus
}

// Value implements driver.Valuer.
func (s StatusJSON) Value() (driver.Value, error) {
	return json.Marshal(s.TaskStatus)
}

// Scan implements sql.Scanner.
func (s *StatusJSON) Scan(value any) error {
	bytes, err := jsonBytes(value, "StatusJSON")
	if err != nil {
		return err
	}
	if bytes == nil {
		*s = StatusJSON{}
		return nil
	}

	var status dawn.TaskStatus
	if err := json.Unmarshal(bytes, &status); err != nil {
		return fmt.Errorf("cannot unmarshal StatusJSON: %w", err)
	}
	s.TaskStatus = status
	return nil
}

// MessageSliceJSON stores a []Message as a JSON column.
type MessageSliceJSON struct {
	Messages []dawn.Message
}

// Value implements driver.Valuer.
func (m MessageSliceJSON) Value() (driver.Value, error) {
	if m.Messages == nil {
		return nil, nil
	}
	return json.Marshal(m.Messages)
}

// Scan implements sql.Scanner.
func (m *MessageSliceJSON) Scan(value any) error {
	bytes, err := jsonBytes(value, "MessageSliceJSON")
	if err != nil {
		return err
	}
	if bytes == nil {
		*m = MessageSliceJSON{}
		return nil
	}

	var messages []dawn.Message
	if err := json.Unmarshal(bytes, &messages); err != nil {
		return fmt.Errorf("cannot unmarshal MessageSliceJSON: %w", err)
	}
	m.Messages = messages
	return nil
}

// ArtifactSliceJSON stores a []Artifact as a JSON column.
type ArtifactSliceJSON struct {
	Artifacts []dawn.Artifact
}

// Value implements driver.Valuer.
func (a ArtifactSliceJSON) Value() (driver.Value, error) {
	if a.Artifacts == nil {
		return nil, nil
	}
	return json.Marshal(a.Artifacts)
}

// Scan implements sql.Scanner.
func (a *ArtifactSliceJSON) Scan(value any) error {
	bytes, err := jsonBytes(value, "ArtifactSliceJSON")
	if err != nil {
		return err
	}
	if bytes == nil {
		*a = ArtifactSliceJSON{}
		return nil
	}

	var artifacts []dawn.Artifact
	if err := json.Unmarshal(bytes, &artifacts); err != nil {
		return fmt.Errorf("cannot unmarshal ArtifactSliceJSON: %w", err)
	}
	a.Artifacts = artifacts
	return nil
}

// MessageJSON stores a single Message as a JSON column.
type MessageJSON struct {
	dawn.Message
}

// Value implements driver.Valuer.
func (m MessageJSON) Value() (driver.Value, error) {
	return json.Marshal(m.Message)
}

// Scan implements sql.Scanner.
func (m *MessageJSON) Scan(value any) error {
	bytes, err := jsonBytes(value, "MessageJSON")
	if err != nil {
		return err
	}
	if bytes == nil {
		*m = MessageJSON{}
		return nil
	}

	var msg dawn.Message
	if err := json.Unmarshal(bytes, &msg); err != nil {
		return fmt.Errorf("cannot unmarshal MessageJSON: %w", err)
	}
	m.Message = msg
	return nil
}

// MetadataJSON stores a map[string]any as a JSON column.
type MetadataJSON map[string]any

// Value implements driver.Valuer.
func (m MetadataJSON) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(m))
}

// Scan implements sql.Scanner.
func (m *MetadataJSON) Scan(value any) error {
	bytes, err := jsonBytes(value, "MetadataJSON")
	if err != nil {
		return err
	}
	if bytes == nil {
		*m = nil
		return nil
	}

	var meta map[string]any
	if err := json.Unmarshal(bytes, &meta); err != nil {
		return fmt.Errorf("cannot unmarshal MetadataJSON: %w", err)
	}
	*m = meta
	return nil
}

func jsonBytes(value any, target string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot scan %T into %s", value, target)
	}
}

// TaskModel is the database row for a task. The state column is denormalized
// from the status JSON so session and state queries stay indexable.
type TaskModel struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	SessionID   string            `gorm:"size:36;index" json:"sessionId"`
	ParentID    string            `gorm:"size:36;index" json:"parentId"`
	State       string            `gorm:"size:24;index;not null" json:"state"`
	Status      StatusJSON        `gorm:"type:json" json:"status"`
	Input       MessageJSON       `gorm:"type:json" json:"input"`
	History     MessageSliceJSON  `gorm:"type:json" json:"history"`
	Artifacts   ArtifactSliceJSON `gorm:"type:json" json:"artifacts"`
	Priority    int               `json:"priority"`
	TimeoutNS   int64             `gorm:"column:timeout_ns" json:"timeoutNs"`
	Metadata    MetadataJSON      `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time         `gorm:"index" json:"createdAt"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
}

// TableName returns the table name for the TaskModel.
func (TaskModel) TableName() string {
	return "tasks"
}

// Validate ensures the TaskModel is in a valid state.
func (m *TaskModel) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if m.State == "" {
		return fmt.Errorf("task state cannot be empty")
	}
	if err := m.Status.TaskStatus.Validate(); err != nil {
		return fmt.Errorf("task status is invalid: %w", err)
	}
	return nil
}

// BeforeCreate is a GORM hook called before creating a record.
func (m *TaskModel) BeforeCreate(tx *gorm.DB) error {
	return m.Validate()
}

// BeforeUpdate is a GORM hook called before updating a record.
func (m *TaskModel) BeforeUpdate(tx *gorm.DB) error {
	return m.Validate()
}

// NewTaskModelFromTask converts a task to its database row.
func NewTaskModelFromTask(task *dawn.Task) (*TaskModel, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("task is invalid: %w", err)
	}

	model := &TaskModel{
		ID:          task.ID,
		SessionID:   task.SessionID,
		ParentID:    task.ParentID,
		State:       string(task.Status.State),
		Status:      StatusJSON{task.Status},
		Input:       MessageJSON{task.Input},
		Priority:    task.Priority,
		TimeoutNS:   int64(task.Timeout),
		Metadata:    MetadataJSON(task.Metadata),
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}
	if task.History != nil {
		model.History = MessageSliceJSON{Messages: make([]dawn.Message, len(task.History))}
		copy(model.History.Messages, task.History)
	}
	if task.Artifacts != nil {
		model.Artifacts = ArtifactSliceJSON{Artifacts: make([]dawn.Artifact, len(task.Artifacts))}
		copy(model.Artifacts.Artifacts, task.Artifacts)
	}
	return model, nil
}

// ToTask converts a database row back to a task.
func (m *TaskModel) ToTask() (*dawn.Task, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("task model is invalid: %w", err)
	}

	task := &dawn.Task{
		ID:          m.ID,
		SessionID:   m.SessionID,
		ParentID:    m.ParentID,
		Status:      m.Status.TaskStatus,
		Input:       m.Input.Message,
		Priority:    m.Priority,
		Timeout:     time.Duration(m.TimeoutNS),
		Metadata:    map[string]any(m.Metadata),
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if m.History.Messages != nil {
		task.History = make([]dawn.Message, len(m.History.Messages))
		copy(task.History, m.History.Messages)
	}
	if m.Artifacts.Artifacts != nil {
		task.Artifacts = make([]dawn.Artifact, len(m.Artifacts.Artifacts))
		copy(task.Artifacts, m.Artifacts.Artifacts)
	}
	return task, nil
}
