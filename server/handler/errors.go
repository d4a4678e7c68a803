// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"errors"

	dawn "github.com/emezac/dawn-sub000"
)

// ErrorResponse is the wire shape of an operation failure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AsError normalizes any error into a coded Error. Errors that already carry
// a code pass through; everything else becomes an InternalError so internals
// never leak to callers uncoded.
func AsError(err error) dawn.Error {
	var coded dawn.Error
	if errors.As(err, &coded) {
		return coded
	}
	return dawn.InternalError{Msg: err.Error()}
}

// NewErrorResponse converts an operation error to its wire shape.
func NewErrorResponse(err error) ErrorResponse {
	coded := AsError(err)
	return ErrorResponse{
		Code:    coded.Code(),
		Message: coded.Error(),
	}
}
