// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"log/slog"

	"github.com/go-json-experiment/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dawn "github.com/emezac/dawn-sub000"
	"github.com/emezac/dawn-sub000/server/event"
	"github.com/emezac/dawn-sub000/server/push"
	"github.com/emezac/dawn-sub000/server/stream"
	"github.com/emezac/dawn-sub000/server/task"
)

// Handler routes operation methods to the engine components. It owns no
// state of its own: the store holds tasks, the queue manager holds event
// records, and the executor drives processing.
type Handler struct {
	store       task.Store
	lifecycle   *task.Lifecycle
	executor    *task.Executor
	queues      *event.Manager
	gateway     *stream.Gateway
	pushConfigs push.ConfigStore
	dispatcher  *push.Dispatcher

	logger *slog.Logger
	tracer trace.Tracer
}

// Config wires the engine components into a Handler.
type Config struct {
	Store       task.Store
	Lifecycle   *task.Lifecycle
	Executor    *task.Executor
	Queues      *event.Manager
	Gateway     *stream.Gateway
	PushConfigs push.ConfigStore
	Dispatcher  *push.Dispatcher
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// New creates a Handler from wired components.
func New(config Config) *Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("github.com/emezac/dawn-sub000/server/handler")
	}
	return &Handler{
		store:       config.Store,
		lifecycle:   config.Lifecycle,
		executor:    config.Executor,
		queues:      config.Queues,
		gateway:     config.Gateway,
		pushConfigs: config.PushConfigs,
		dispatcher:  config.Dispatcher,
		logger:      logger,
		tracer:      tracer,
	}
}

// Handle dispatches a non-streaming method. Parameters arrive as raw JSON
// and results marshal cleanly back to JSON; every returned error implements
// the coded Error interface.
func (h *Handler) Handle(ctx context.Context, method Method, params []byte) (result any, err error) {
	ctx, span := h.tracer.Start(ctx, "dawn.handler.Handle",
		trace.WithAttributes(attribute.String("dawn.method", string(method))))
	defer span.End()
	defer h.recoverPanic(ctx, method, &err)

	switch method {
	case MethodTasksSend:
		var p SendParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnSendTask(ctx, p)
	case MethodTasksGet:
		var p GetParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnGetTask(ctx, p)
	case MethodTasksList:
		var p ListParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnListTasks(ctx, p)
	case MethodTasksCancel:
		var p CancelParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnCancelTask(ctx, p)
	case MethodTasksRetry:
		var p RetryParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnRetryTask(ctx, p)
	case MethodPushConfigSet:
		var p PushConfigSetParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnSetPushConfig(ctx, p)
	case MethodPushConfigGet:
		var p PushConfigGetParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnGetPushConfig(ctx, p)
	case MethodTasksSubscribe, MethodTasksResubscribe:
		return nil, dawn.ValidationError{Msg: string(method) + " is a streaming method"}
	default:
		return nil, dawn.MethodNotFoundError{Method: string(method)}
	}
}

// HandleStream dispatches a streaming method and returns its event channel.
func (h *Handler) HandleStream(ctx context.Context, method Method, params []byte) (events <-chan dawn.Event, err error) {
	ctx, span := h.tracer.Start(ctx, "dawn.handler.HandleStream",
		trace.WithAttributes(attribute.String("dawn.method", string(method))))
	defer span.End()
	defer h.recoverPanic(ctx, method, &err)

	switch method {
	case MethodTasksSubscribe:
		var p SubscribeParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnSubscribe(ctx, p)
	case MethodTasksResubscribe:
		var p ResubscribeParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.OnResubscribe(ctx, p)
	default:
		return nil, dawn.MethodNotFoundError{Method: string(method)}
	}
}

// OnSendTask submits a new task, or resumes an existing one parked in an
// interrupted state by appending the message to its history. Sending to an
// existing task that is not interrupted fails with DuplicateTaskError.
func (h *Handler) OnSendTask(ctx context.Context, p SendParams) (*dawn.TaskSnapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if p.ID != "" {
		existing, err := h.store.Get(ctx, p.ID)
		switch err.(type) {
		case nil:
			if existing.Status.State.IsInterrupted() {
				snap, err := h.executor.Resume(ctx, p.ID, &p.Message)
				if err != nil {
					return nil, err
				}
				h.logger.InfoContext(ctx, "task resumed", "task_id", p.ID, "state", snap.State)
				return snap, nil
			}
			return nil, dawn.DuplicateTaskError{TaskID: p.ID}
		case dawn.TaskNotFoundError:
			// Fresh id, fall through to submission.
		default:
			return nil, err
		}
	}

	snap, err := h.executor.Submit(ctx, &dawn.Task{
		ID:        p.ID,
		SessionID: p.SessionID,
		ParentID:  p.ParentID,
		Input:     p.Message,
		Priority:  p.Priority,
		Timeout:   p.Timeout,
		Metadata:  p.Metadata,
	})
	if err != nil {
		return nil, err
	}
	if p.NotificationConfig != nil {
		if err := h.pushConfigs.Set(ctx, snap.ID, p.NotificationConfig); err != nil {
			return nil, err
		}
		h.dispatcher.Watch(snap.ID)
	}
	h.logger.InfoContext(ctx, "task submitted", "task_id", snap.ID, "session_id", p.SessionID)
	return snap, nil
}

// OnGetTask returns the current snapshot of a task.
func (h *Handler) OnGetTask(ctx context.Context, p GetParams) (*dawn.TaskSnapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	t, err := h.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	snap := t.Snapshot()
	if p.IncludeHistory || p.HistoryLength > 0 {
		history := t.Status.History
		if p.HistoryLength > 0 && len(history) > p.HistoryLength {
			history = history[len(history)-p.HistoryLength:]
		}
		if len(history) > 0 {
			snap.History = make([]dawn.StateTransition, len(history))
			copy(snap.History, history)
		}
	}
	return snap, nil
}

// OnListTasks returns snapshots of stored tasks with paging.
func (h *Handler) OnListTasks(ctx context.Context, p ListParams) (*ListResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tasks, err := h.store.List(ctx, p.SessionID, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	total, err := h.store.Count(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		Tasks: make([]*dawn.TaskSnapshot, len(tasks)),
		Total: total,
	}
	for i, t := range tasks {
		result.Tasks[i] = t.Snapshot()
	}
	return result, nil
}

// OnCancelTask cancels a task.
func (h *Handler) OnCancelTask(ctx context.Context, p CancelParams) (*dawn.TaskSnapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	snap, err := h.executor.Cancel(ctx, p.ID, p.Reason)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "task canceled", "task_id", p.ID)
	return snap, nil
}

// OnRetryTask restarts a task that ended in failed or timeout.
func (h *Handler) OnRetryTask(ctx context.Context, p RetryParams) (*dawn.TaskSnapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	snap, err := h.executor.Retry(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "task retried", "task_id", p.ID)
	return snap, nil
}

// OnSubscribe opens an event stream for a task.
func (h *Handler) OnSubscribe(ctx context.Context, p SubscribeParams) (<-chan dawn.Event, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return h.gateway.OpenStream(ctx, p.ID, p.From)
}

// OnResubscribe reopens an event stream after a disconnect, resuming at the
// sequence after the last one the client saw.
func (h *Handler) OnResubscribe(ctx context.Context, p ResubscribeParams) (<-chan dawn.Event, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return h.gateway.Resubscribe(ctx, p.ID, p.LastSequence)
}

// OnSetPushConfig registers a webhook for a task and starts streaming the
// task's events into delivery.
func (h *Handler) OnSetPushConfig(ctx context.Context, p PushConfigSetParams) (*dawn.NotificationConfig, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.store.Get(ctx, p.ID); err != nil {
		return nil, err
	}

	if err := h.pushConfigs.Set(ctx, p.ID, p.Config); err != nil {
		return nil, err
	}
	h.dispatcher.Watch(p.ID)

	h.logger.InfoContext(ctx, "push notification configured", "task_id", p.ID, "url", p.Config.URL)
	return p.Config, nil
}

// OnGetPushConfig retrieves the webhook registered for a task.
func (h *Handler) OnGetPushConfig(ctx context.Context, p PushConfigGetParams) (*dawn.NotificationConfig, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return h.pushConfigs.Get(ctx, p.ID)
}

// recoverPanic converts a panic inside an operation into an InternalError so
// one bad request cannot take down the process.
func (h *Handler) recoverPanic(ctx context.Context, method Method, err *error) {
	if r := recover(); r != nil {
		h.logger.ErrorContext(ctx, "operation panicked", "method", method, "panic", r)
		*err = dawn.InternalError{Msg: "unexpected failure handling " + string(method)}
	}
}

// unmarshalParams decodes raw JSON parameters, mapping malformed input to
// ValidationError.
func unmarshalParams(params []byte, v any) error {
	if len(params) == 0 {
		return dawn.ValidationError{Msg: "missing params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return dawn.ValidationError{Msg: err.Error()}
	}
	return nil
}
