package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelhq/keel/internal/config"
)

// HTTPSender POSTs envelopes to a receiver endpoint. Any 2xx response is an
// ack. Non-2xx responses become a SendError; a Retry-After header (seconds)
// is surfaced as the retry hint.
type HTTPSender struct {
	endpoint string
	bearer   string
	client   *http.Client
}

// NewHTTPSender builds a sender from the sender config section.
func NewHTTPSender(cfg config.SenderConfig) (*HTTPSender, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("worker: sender endpoint is required")
	}
	connectTimeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	if connectTimeout <= 0 {
		connectTimeout = 3 * time.Second
	}
	requestTimeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &HTTPSender{
		endpoint: cfg.Endpoint,
		bearer:   cfg.BearerToken,
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, env Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return &SendError{Message: fmt.Sprintf("encode envelope: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.IdempotencyKey)
	req.Header.Set("X-Sync-Job-Id", env.SyncJobID)
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendError{Message: fmt.Sprintf("post %s: %v", s.endpoint, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	ms, ok := retryAfterMs(resp.Header.Get("Retry-After"))
	return &SendError{
		Message:       fmt.Sprintf("receiver returned %s", resp.Status),
		RetryAfterMs:  ms,
		HasRetryAfter: ok,
	}
}

// retryAfterMs parses a Retry-After value in seconds. ok is false when the
// header is absent or malformed; a valid "0" is a hint of zero, which the
// queue clamps to its retry floor.
func retryAfterMs(v string) (ms int64, ok bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs * 1_000, true
}
