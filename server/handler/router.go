// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler exposes the engine's operations behind a method router:
// named operations with JSON parameters, independent of any particular
// transport.
package handler

import (
	"time"

	dawn "github.com/emezac/dawn-sub000"
)

// Method names an engine operation.
type Method string

// The supported methods. Subscribe and resubscribe are streaming methods
// served by HandleStream; everything else goes through Handle.
const (
	MethodTasksSend        Method = "tasks/send"
	MethodTasksGet         Method = "tasks/get"
	MethodTasksList        Method = "tasks/list"
	MethodTasksCancel      Method = "tasks/cancel"
	MethodTasksRetry       Method = "tasks/retry"
	MethodTasksSubscribe   Method = "tasks/subscribe"
	MethodTasksResubscribe Method = "tasks/resubscribe"
	MethodPushConfigSet    Method = "tasks/pushNotificationConfig/set"
	MethodPushConfigGet    Method = "tasks/pushNotificationConfig/get"
)

// Methods returns every method the router serves.
func Methods() []Method {
	return []Method{
		MethodTasksSend,
		MethodTasksGet,
		MethodTasksList,
		MethodTasksCancel,
		MethodTasksRetry,
		MethodTasksSubscribe,
		MethodTasksResubscribe,
		MethodPushConfigSet,
		MethodPushConfigGet,
	}
}

// IsStreaming reports whether a method returns an event stream rather than
// a single result.
func (m Method) IsStreaming() bool {
	return m == MethodTasksSubscribe || m == MethodTasksResubscribe
}

// SendParams are the parameters of tasks/send. Sending to a fresh id (or no
// id) submits a new task; sending to an existing task parked in an
// interrupted state resumes it with the message.
type SendParams struct {
	ID        string         `json:"id,omitzero"`
	SessionID string         `json:"sessionId,omitzero"`
	ParentID  string         `json:"parentId,omitzero"`
	Message   dawn.Message   `json:"message"`
	Priority  int            `json:"priority,omitzero"`
	Timeout   time.Duration  `json:"timeout,omitzero"`
	Metadata  map[string]any `json:"metadata,omitzero"`

	// NotificationConfig, if set, registers a webhook for the task at
	// submission so delivery starts from the first event.
	NotificationConfig *dawn.NotificationConfig `json:"notificationConfig,omitzero"`
}

// Validate ensures the SendParams are valid.
func (p SendParams) Validate() error {
	if err := p.Message.Validate(); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}
	if p.Timeout < 0 {
		return dawn.ValidationError{Msg: "timeout cannot be negative"}
	}
	if p.NotificationConfig != nil {
		if err := p.NotificationConfig.Validate(); err != nil {
			return dawn.ValidationError{Msg: err.Error()}
		}
	}
	return nil
}

// GetParams are the parameters of tasks/get.
type GetParams struct {
	ID string `json:"id"`

	// IncludeHistory attaches the task's transition history to the
	// snapshot; by default the snapshot carries none.
	IncludeHistory bool `json:"includeHistory,omitzero"`

	// HistoryLength caps how many trailing transitions are returned when
	// history is included; 0 returns the full history. Setting it implies
	// IncludeHistory.
	HistoryLength int `json:"historyLength,omitzero"`
}

// Validate ensures the GetParams are valid.
func (p GetParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	if p.HistoryLength < 0 {
		return dawn.ValidationError{Msg: "history length cannot be negative"}
	}
	return nil
}

// ListParams are the parameters of tasks/list.
type ListParams struct {
	SessionID string `json:"sessionId,omitzero"`
	Limit     int    `json:"limit,omitzero"`
	Offset    int    `json:"offset,omitzero"`
}

// Validate ensures the ListParams are valid.
func (p ListParams) Validate() error {
	if p.Limit < 0 || p.Offset < 0 {
		return dawn.ValidationError{Msg: "limit and offset cannot be negative"}
	}
	return nil
}

// ListResult is the result of tasks/list.
type ListResult struct {
	Tasks []*dawn.TaskSnapshot `json:"tasks"`
	Total int64                `json:"total"`
}

// CancelParams are the parameters of tasks/cancel.
type CancelParams struct {
	ID string `json:"id"`

	// Reason, if set, is recorded as the status message of the canceled
	// task.
	Reason string `json:"reason,omitzero"`
}

// Validate ensures the CancelParams are valid.
func (p CancelParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	return nil
}

// RetryParams are the parameters of tasks/retry.
type RetryParams struct {
	ID string `json:"id"`
}

// Validate ensures the RetryParams are valid.
func (p RetryParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	return nil
}

// SubscribeParams are the parameters of tasks/subscribe.
type SubscribeParams struct {
	ID string `json:"id"`

	// From, if set, starts the stream at that sequence instead of
	// replaying from the beginning.
	From *uint64 `json:"from,omitzero"`
}

// Validate ensures the SubscribeParams are valid.
func (p SubscribeParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	return nil
}

// ResubscribeParams are the parameters of tasks/resubscribe.
type ResubscribeParams struct {
	ID string `json:"id"`

	// LastSequence is the sequence of the last event the client saw; the
	// stream resumes at LastSequence+1.
	LastSequence uint64 `json:"lastSequence"`
}

// Validate ensures the ResubscribeParams are valid.
func (p ResubscribeParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	return nil
}

// PushConfigSetParams are the parameters of tasks/pushNotificationConfig/set.
type PushConfigSetParams struct {
	ID     string                   `json:"id"`
	Config *dawn.NotificationConfig `json:"config"`
}

// Validate ensures the PushConfigSetParams are valid.
func (p *PushConfigSetParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	if p.Config == nil {
		return dawn.ValidationError{Msg: "notification config cannot be nil"}
	}
	if err := p.Config.Validate(); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}
	return nil
}

// PushConfigGetParams are the parameters of tasks/pushNotificationConfig/get.
type PushConfigGetParams struct {
	ID string `json:"id"`
}

// Validate ensures the PushConfigGetParams are valid.
func (p PushConfigGetParams) Validate() error {
	if p.ID == "" {
		return dawn.ValidationError{Msg: "task ID cannot be empty"}
	}
	return nil
}
