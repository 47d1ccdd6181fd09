// Package worker implements the job runtime: pull a job, decrypt its
// credentials, run the matching provider adapter, and report lifecycle
// events back to intake.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
)

// CallbackKeyHeader carries the pre-shared key on worker callbacks.
const CallbackKeyHeader = "X-Callback-Key"

// Emitter delivers lifecycle events to intake. Delivery is fire-and-forget
// from the job's perspective: an emit failure is logged, never propagated,
// so it cannot abort a scrape.
type Emitter interface {
	Emit(ctx context.Context, sessionID, eventType string, data any)
}

// HTTPEmitter posts events to the intake callback endpoint with bounded
// retries. Rejections (bad key, unknown session, illegal transition) are not
// retried; they will not heal on their own.
type HTTPEmitter struct {
	baseURL     string
	callbackKey string
	retries     int
	backoff     time.Duration
	client      *http.Client
	logger      arbor.ILogger
}

// NewHTTPEmitter creates an emitter against the intake base URL.
func NewHTTPEmitter(baseURL, callbackKey string, retries int, backoff time.Duration, logger arbor.ILogger) *HTTPEmitter {
	if retries < 1 {
		retries = 1
	}
	return &HTTPEmitter{
		baseURL:     baseURL,
		callbackKey: callbackKey,
		retries:     retries,
		backoff:     backoff,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type eventBody struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Emit posts one event. Event data must never contain credential material;
// callers pass reports and error payloads only.
func (e *HTTPEmitter) Emit(ctx context.Context, sessionID, eventType string, data any) {
	body, err := json.Marshal(eventBody{Type: eventType, Data: data})
	if err != nil {
		e.logger.Error().Err(err).
			Str("session_id", sessionID).
			Str("type", eventType).
			Msg("Failed to encode event")
		return
	}

	url := fmt.Sprintf("%s/v1/sessions/%s/events", e.baseURL, sessionID)

	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				e.logFailure(sessionID, eventType, lastErr)
				return
			case <-time.After(e.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")
		if e.callbackKey != "" {
			req.Header.Set(CallbackKeyHeader, e.callbackKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return
		}
		lastErr = fmt.Errorf("intake returned %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
	}

	e.logFailure(sessionID, eventType, lastErr)
}

func (e *HTTPEmitter) logFailure(sessionID, eventType string, err error) {
	e.logger.Warn().Err(err).
		Str("session_id", sessionID).
		Str("type", eventType).
		Msg("Event delivery failed")
}
