// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrQueueFull is returned when the retained log is at capacity.
	ErrQueueFull = errors.New("event queue is full")

	// ErrQueueEmpty is returned by non-blocking reads with no event available.
	ErrQueueEmpty = errors.New("event queue is empty")

	// ErrSubscriptionDone is returned after a subscription has delivered a
	// final event.
	ErrSubscriptionDone = errors.New("subscription is done")
)
