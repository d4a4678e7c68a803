// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package dawn

import "time"

// EventKind discriminates the closed set of event variants.
type EventKind string

const (
	// StatusUpdateEventKind tags events carrying a task status change.
	StatusUpdateEventKind EventKind = "status_update"

	// ArtifactUpdateEventKind tags events carrying a produced artifact.
	ArtifactUpdateEventKind EventKind = "artifact_update"
)

// Event is an immutable, sequenced fact about a task: either a status change
// or a produced artifact. The variant set is closed; consumers can type
// switch over *StatusUpdateEvent and *ArtifactUpdateEvent exhaustively.
//
// Sequence numbers are assigned by the task's event queue on publish and are
// strictly increasing, gapless, and scoped to one task. An event with
// Final()==true ends the task's stream.
type Event interface {
	Kind() EventKind
	TaskID() string
	Sequence() uint64
	Final() bool
}

// StatusUpdateEvent is published whenever a task's status changes.
type StatusUpdateEvent struct {
	ID        string     `json:"taskId"`
	Seq       uint64     `json:"sequence"`
	Status    TaskStatus `json:"status"`
	IsFinal   bool       `json:"final"`
	Timestamp time.Time  `json:"timestamp"`
}

// Kind returns StatusUpdateEventKind.
func (e *StatusUpdateEvent) Kind() EventKind { return StatusUpdateEventKind }

// TaskID returns the id of the task this event belongs to.
func (e *StatusUpdateEvent) TaskID() string { return e.ID }

// Sequence returns the per-task sequence number assigned on publish.
func (e *StatusUpdateEvent) Sequence() uint64 { return e.Seq }

// Final reports whether this event ends the task's stream.
func (e *StatusUpdateEvent) Final() bool { return e.IsFinal }

// ArtifactUpdateEvent is published whenever a task produces an artifact.
type ArtifactUpdateEvent struct {
	ID        string    `json:"taskId"`
	Seq       uint64    `json:"sequence"`
	Artifact  Artifact  `json:"artifact"`
	Append    bool      `json:"append,omitzero"`
	Timestamp time.Time `json:"timestamp"`
}

// Kind returns ArtifactUpdateEventKind.
func (e *ArtifactUpdateEvent) Kind() EventKind { return ArtifactUpdateEventKind }

// TaskID returns the id of the task this event belongs to.
func (e *ArtifactUpdateEvent) TaskID() string { return e.ID }

// Sequence returns the per-task sequence number assigned on publish.
func (e *ArtifactUpdateEvent) Sequence() uint64 { return e.Seq }

// Final always returns false; only a terminal status update closes a stream.
func (e *ArtifactUpdateEvent) Final() bool { return false }
