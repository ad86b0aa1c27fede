package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Headers set on every webhook delivery.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderModel          = "X-Sepsis-Model"
	HeaderOutcome        = "X-Sepsis-Outcome"
)

// webhookRetryDelays are the pauses before the second and third attempt.
var webhookRetryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}

// WebhookSink POSTs each audit event as JSON to a receiver.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink builds a sink posting to url; headers are sent with every request.
func NewWebhookSink(url string, headers map[string]string, timeout time.Duration) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	s := &WebhookSink{
		url:     url,
		headers: make(map[string]string, len(headers)),
		client:  &http.Client{Timeout: timeout},
	}
	for k, v := range headers {
		s.headers[k] = v
	}
	return s, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

// deliveryError reports a failed POST; retryable marks transport errors, 429 and 5xx.
type deliveryError struct {
	status    int
	body      string
	err       error
	retryable bool
}

func (e *deliveryError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("post: %v", e.err)
	}
	return fmt.Sprintf("status %d body=%q", e.status, e.body)
}

func (e *deliveryError) Unwrap() error { return e.err }

// Deliver posts ev, retrying transient failures. The idempotency key is the
// request id, so a receiver can discard duplicates from retries.
func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.RequestID, err)
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		derr := s.post(ctx, ev, payload)
		if derr == nil {
			return nil
		}
		if !derr.retryable || attempt >= len(webhookRetryDelays) {
			return derr
		}
		select {
		case <-time.After(webhookRetryDelays[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}
}

func (s *WebhookSink) post(ctx context.Context, ev *Event, payload []byte) *deliveryError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return &deliveryError{err: err}
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, ev.RequestID)
	req.Header.Set(HeaderIdempotencyKey, ev.RequestID)
	req.Header.Set(HeaderModel, ev.Model.Name+"@"+ev.Model.Version)
	req.Header.Set(HeaderOutcome, string(ev.Outcome))

	resp, err := s.client.Do(req)
	if err != nil {
		return &deliveryError{err: err, retryable: ctx.Err() == nil}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 201))
	return &deliveryError{
		status:    resp.StatusCode,
		body:      truncateBody(body),
		retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
}

func (s *WebhookSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
