// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport serves the method router over HTTP: JSON-RPC style
// request/response for unary methods, and server-sent events for the
// streaming ones.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	dawn "github.com/emezac/dawn-sub000"
	"github.com/emezac/dawn-sub000/server/handler"
)

// Request is the JSON-RPC request envelope.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id,omitzero"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
}

// Response is the JSON-RPC response envelope.
type Response struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      jsontext.Value         `json:"id,omitzero"`
	Result  any                    `json:"result,omitzero"`
	Error   *handler.ErrorResponse `json:"error,omitzero"`
}

// HTTPHandler serves engine operations over HTTP POST. Unary methods answer
// with a single JSON-RPC response; streaming methods (tasks/subscribe,
// tasks/resubscribe) answer with a text/event-stream of the task's events,
// one SSE event per lifecycle event, id set to the sequence number.
type HTTPHandler struct {
	handler *handler.Handler
	logger  *slog.Logger
}

var _ http.Handler = (*HTTPHandler)(nil)

// NewHTTPHandler creates an HTTPHandler over a wired method router.
func NewHTTPHandler(h *handler.Handler, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{handler: h, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeResponse(w, Response{
			JSONRPC: "2.0",
			Error:   errorResponse(dawn.ValidationError{Msg: "malformed request: " + err.Error()}),
		})
		return
	}

	method := handler.Method(req.Method)
	if method.IsStreaming() {
		h.serveStream(w, r, method, req)
		return
	}

	result, err := h.handler.Handle(r.Context(), method, req.Params)
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = errorResponse(err)
	} else {
		resp.Result = result
	}
	h.writeResponse(w, resp)
}

func (h *HTTPHandler) writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.MarshalWrite(w, resp); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

// serveStream answers a streaming method with server-sent events until the
// stream closes or the client disconnects.
func (h *HTTPHandler) serveStream(w http.ResponseWriter, r *http.Request, method handler.Method, req Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.handler.HandleStream(r.Context(), method, req.Params)
	if err != nil {
		h.writeResponse(w, Response{JSONRPC: "2.0", ID: req.ID, Error: errorResponse(err)})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal stream event failed",
				"task_id", ev.TaskID(), "sequence", ev.Sequence(), "error", err)
			return
		}
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence(), ev.Kind(), data)
		flusher.Flush()
	}
}

func errorResponse(err error) *handler.ErrorResponse {
	resp := handler.NewErrorResponse(err)
	return &resp
}
