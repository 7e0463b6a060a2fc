// Package dispatch fans one domain event out to every subscribed endpoint.
//
// A Dispatcher runs inside the request that changed the record. It looks up
// subscribers, builds and serializes the payload once, and hands one
// delivery task per endpoint to the queue. It never talks to subscribers.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/payload"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

// EndpointLookup resolves subscriber URLs. *registry.Registry implements it.
type EndpointLookup interface {
	EndpointsFor(ctx context.Context, eventType event.Type, ownerID int64) ([]string, error)
}

// PayloadBuilder turns a record into its webhook payload. *payload.Adapter implements it.
type PayloadBuilder interface {
	Build(record any) (map[string]any, error)
}

// Enqueuer submits delivery tasks. *delivery.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, task delivery.Task) error
}

type Dispatcher struct {
	endpoints EndpointLookup
	payloads  PayloadBuilder
	queue     Enqueuer
	logger    *logging.Logger
	now       func() time.Time
}

func New(endpoints EndpointLookup, payloads PayloadBuilder, queue Enqueuer, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		payloads:  payloads,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch schedules one delivery per endpoint of record's owner subscribed
// to eventType and returns how many were scheduled. With no subscriber it
// returns 0 without building a payload.
//
// If the queue rejects a task, Dispatch stops and returns the number already
// submitted with the error. Submitted tasks are not withdrawn.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType event.Type, record payload.Record) (int, error) {
	if record == nil {
		return 0, fmt.Errorf("%w: <nil>", payload.ErrInvalidPayloadObject)
	}
	ownerID := record.OwnerID()

	ctx, span := tracing.StartSpan(ctx, "dispatch",
		attribute.String("event_type", string(eventType)),
		attribute.Int64("owner_id", ownerID),
	)
	defer span.End()

	urls, err := d.endpoints.EndpointsFor(ctx, eventType, ownerID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	if len(urls) == 0 {
		metrics.RecordDispatch(string(eventType), 0)
		return 0, nil
	}

	body, err := d.serialize(eventType, record)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	tracing.AddSpanEvent(ctx, "payload.built", attribute.Int("bytes", len(body)))

	enqueuedAt := d.now().UTC()
	submitted := 0
	for _, url := range urls {
		task := delivery.Task{
			URL:        url,
			Body:       body,
			EventType:  string(eventType),
			EnqueuedAt: enqueuedAt,
		}
		if err := d.queue.Enqueue(ctx, task); err != nil {
			tracing.SetSpanError(ctx, err)
			metrics.RecordDispatch(string(eventType), submitted)
			d.logger.WithContext(ctx).WithOwner(ownerID).WithEventType(string(eventType)).WithTarget(url).
				WithField("submitted", submitted).WithError(err).Error("enqueue delivery failed")
			return submitted, fmt.Errorf("enqueue delivery to %s: %w", url, err)
		}
		submitted++
	}

	span.SetAttributes(attribute.Int("fanout", submitted))
	metrics.RecordDispatch(string(eventType), submitted)
	d.logger.WithContext(ctx).WithOwner(ownerID).WithEventType(string(eventType)).
		WithField("fanout", submitted).Info("event dispatched")
	return submitted, nil
}

func (d *Dispatcher) serialize(eventType event.Type, record payload.Record) (string, error) {
	p, err := d.payloads.Build(record)
	if err != nil {
		return "", err
	}
	env, err := event.New(string(eventType), p)
	if err != nil {
		return "", err
	}
	b, err := env.Wire()
	if err != nil {
		return "", fmt.Errorf("serialize envelope: %w", err)
	}
	return string(b), nil
}
