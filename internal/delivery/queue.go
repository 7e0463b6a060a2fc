package delivery

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/austindbirch/hookrelay/internal/tracing"
)

// Publisher is the part of *nsq.Producer the queue uses.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Queue publishes delivery tasks to the deliveries topic.
type Queue struct {
	pub   Publisher
	topic string
}

func NewQueue(pub Publisher, topic string) *Queue {
	return &Queue{pub: pub, topic: topic}
}

// Enqueue publishes t, carrying the caller's trace context along.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.TraceHeaders == nil {
		if h := tracing.InjectHeaders(ctx); len(h) > 0 {
			t.TraceHeaders = h
		}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.pub.Publish(q.topic, b); err != nil {
		return fmt.Errorf("publish to %s: %w", q.topic, err)
	}
	return nil
}
