package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses when the worker is
// configured to fail on them.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("subscriber responded %d", e.Status)
}

type Options struct {
	Timeout         time.Duration
	FailOnHTTPError bool
}

// Result describes a completed HTTP exchange.
type Result struct {
	Status  int
	Latency time.Duration
}

// Worker performs one delivery attempt per call and keeps no state between
// calls, so one Worker serves every consumer goroutine.
type Worker struct {
	client          *http.Client
	failOnHTTPError bool
	logger          *logging.Logger
}

func NewWorker(opts Options, logger *logging.Logger) *Worker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Worker{
		client:          &http.Client{Timeout: opts.Timeout},
		failOnHTTPError: opts.FailOnHTTPError,
		logger:          logger,
	}
}

// Deliver POSTs the task body to its URL. Any completed exchange counts as
// delivered regardless of status unless FailOnHTTPError is set. Transport
// failures (refused, timeout, DNS) are returned for the queue to retry.
func (w *Worker) Deliver(ctx context.Context, t Task) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "delivery.post",
		attribute.String("url", t.URL),
		attribute.String("event_type", t.EventType),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, strings.NewReader(t.Body))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.RecordAttempt(false, 0, latency)
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	res := &Result{Status: resp.StatusCode, Latency: latency}
	span.SetAttributes(
		attribute.Int("http.status_code", res.Status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if w.failOnHTTPError && (res.Status < 200 || res.Status > 299) {
		err := &StatusError{Status: res.Status}
		metrics.RecordAttempt(false, res.Status, latency)
		tracing.SetSpanError(ctx, err)
		return res, err
	}

	metrics.RecordAttempt(true, res.Status, latency)
	w.logger.WithContext(ctx).WithEventType(t.EventType).WithTarget(t.URL).WithFields(map[string]any{
		"status":     res.Status,
		"latency_ms": latency.Milliseconds(),
	}).Debug("delivery completed")
	return res, nil
}
