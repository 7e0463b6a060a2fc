package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

// Deliverer performs one attempt. *Worker implements it.
type Deliverer interface {
	Deliver(ctx context.Context, t Task) (*Result, error)
}

// RetryPolicy bounds redelivery. MaxAttempts counts the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	JitterPct   float64
}

var DefaultBackoff = []time.Duration{
	time.Second,
	4 * time.Second,
	16 * time.Second,
	time.Minute,
	4 * time.Minute,
	10 * time.Minute,
}

// Consumer is the nsq.Handler for the deliveries channel. It owns the
// retry decision: failed attempts are requeued with backoff until the
// budget is spent, then the task is dropped.
type Consumer struct {
	worker Deliverer
	retry  RetryPolicy
	logger *logging.Logger
	jitter func() float64
}

func NewConsumer(worker Deliverer, retry RetryPolicy, logger *logging.Logger) *Consumer {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 10
	}
	if len(retry.Backoff) == 0 {
		retry.Backoff = DefaultBackoff
	}
	return &Consumer{worker: worker, retry: retry, logger: logger, jitter: rand.Float64}
}

// HandleMessage always responds to m itself and never returns an error, so
// go-nsq's own requeue path is not used.
func (c *Consumer) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()

	var t Task
	if err := json.Unmarshal(m.Body, &t); err != nil || t.Validate() != nil {
		if err == nil {
			err = ErrMalformedTask
		}
		c.logger.Plain().WithField("message_id", string(m.ID[:])).WithError(err).Error("bad task payload")
		metrics.RecordMalformed()
		m.Finish()
		return nil
	}

	ctx := tracing.ExtractHeaders(context.Background(), t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.delivery",
		attribute.String("url", t.URL),
		attribute.String("event_type", t.EventType),
		attribute.Int("attempt", int(m.Attempts)),
	)
	defer span.End()

	_, err := c.worker.Deliver(ctx, t)
	if err == nil {
		m.Finish()
		return nil
	}

	attempt := int(m.Attempts)
	reason := classifyReason(err)
	span.SetAttributes(attribute.String("failure_reason", reason))
	entry := c.logger.WithContext(ctx).WithEventType(t.EventType).WithTarget(t.URL).WithError(err)

	if attempt >= c.retry.MaxAttempts {
		tracing.AddSpanEvent(ctx, "delivery.abandoned", attribute.Int("attempt", attempt))
		entry.WithField("attempt", attempt).Warn("retry budget exhausted, dropping delivery")
		metrics.RecordAbandoned()
		m.Finish()
		return nil
	}

	delay := computeDelay(attempt, c.retry.Backoff, c.retry.JitterPct, c.jitter)
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		attribute.Int("attempt", attempt),
		attribute.String("delay", delay.String()),
	)
	entry.WithFields(map[string]any{
		"attempt": attempt,
		"reason":  reason,
		"delay":   delay.String(),
	}).Info("requeue delivery")
	metrics.RecordRetry(reason)
	m.Requeue(delay)
	return nil
}

// LogFailedMessage is called by go-nsq when a message arrives with more
// attempts than the consumer's MaxAttempts; go-nsq finishes it afterwards.
func (c *Consumer) LogFailedMessage(m *nsq.Message) {
	c.logger.Plain().WithFields(map[string]any{
		"message_id": string(m.ID[:]),
		"attempt":    m.Attempts,
	}).Warn("retry budget exhausted, dropping delivery")
	metrics.RecordAbandoned()
}

// computeDelay maps a 1-based attempt onto the schedule, clamping at the
// last step, and applies +/- jitterPct. rnd returns values in [0,1).
func computeDelay(attempt int, schedule []time.Duration, jitterPct float64, rnd func() float64) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	j := 1 + (rnd()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

func classifyReason(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 429:
			return "http_429"
		case se.Status >= 500:
			return "http_5xx"
		case se.Status >= 400:
			return "http_4xx"
		default:
			return "http_other"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection refused"):
		return "connection_refused"
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return "dns_error"
	default:
		return "network"
	}
}
