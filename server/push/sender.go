// Copyright 2025 The Dawn Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	dawn "github.com/emezac/dawn-sub000"
)

// NotificationTokenHeader carries the registered token back to the receiver
// so it can correlate deliveries with its registration.
const NotificationTokenHeader = "X-Dawn-Notification-Token"

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 30 * time.Second

// jwtLifetime bounds how long a delivery JWT stays valid.
const jwtLifetime = 5 * time.Minute

// Envelope is the JSON body of one webhook delivery.
type Envelope struct {
	TaskID    string     `json:"taskId"`
	Kind      string     `json:"kind"`
	Sequence  uint64     `json:"sequence"`
	Event     dawn.Event `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
}

// Sender performs a single delivery attempt to a webhook endpoint.
type Sender interface {
	// Send POSTs one event to the configured endpoint. A non-2xx response
	// is an error: the caller decides whether to retry.
	Send(ctx context.Context, ev dawn.Event, config *dawn.NotificationConfig) error
}

// HTTPSender implements Sender over net/http.
type HTTPSender struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

var _ Sender = (*HTTPSender)(nil)

// HTTPSenderConfig holds configuration for HTTPSender.
type HTTPSenderConfig struct {
	Client  *http.Client
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewHTTPSender creates an HTTP webhook sender.
func NewHTTPSender(config HTTPSenderConfig) *HTTPSender {
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultSendTimeout}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Send POSTs one event to the configured endpoint.
func (s *HTTPSender) Send(ctx context.Context, ev dawn.Event, config *dawn.NotificationConfig) error {
	if config == nil {
		return fmt.Errorf("notification config cannot be nil")
	}

	body, err := json.Marshal(Envelope{
		TaskID:    ev.TaskID(),
		Kind:      string(ev.Kind()),
		Sequence:  ev.Sequence(),
		Event:     ev,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dawn-push-notification-sender")
	if config.Token != "" {
		req.Header.Set(NotificationTokenHeader, config.Token)
	}
	if config.SigningKey != "" {
		signed, err := signDelivery(ev, config.SigningKey)
		if err != nil {
			return fmt.Errorf("sign notification: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected with HTTP %d: %s", resp.StatusCode, respBody)
	}

	s.logger.Debug("notification sent",
		"task_id", ev.TaskID(), "sequence", ev.Sequence(), "url", config.URL)
	return nil
}

// signDelivery builds a short-lived HS256 JWT binding the delivery to its
// task and sequence so the receiver can verify origin and detect replays.
func signDelivery(ev dawn.Event, key string) (string, error) {
	now := time.Now().UTC()
	tok, err := jwt.NewBuilder().
		Issuer("dawn").
		Subject(ev.TaskID()).
		IssuedAt(now).
		Expiration(now.Add(jwtLifetime)).
		Claim("sequence", ev.Sequence()).
		Claim("kind", string(ev.Kind())).
		Build()
	if err != nil {
		return "", fmt.Errorf("build JWT: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), []byte(key)))
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}
	return string(signed), nil
}
