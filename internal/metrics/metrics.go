package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_dispatches_total",
			Help: "Total number of dispatch calls by event type and whether any endpoint matched.",
		},
		[]string{"event_type", "matched"},
	)

	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_tasks_enqueued_total",
			Help: "Total number of delivery tasks submitted to the queue.",
		},
		[]string{"event_type"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // completed, failed, malformed
	)

	DeliveryLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "Latency of delivery attempts, including failed ones.",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_http_responses_total",
			Help: "Subscriber HTTP responses by status class.",
		},
		[]string{"class"}, // 2xx, 3xx, 4xx, 5xx
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery requeues by reason.",
		},
		[]string{"reason"}, // timeout, connection_refused, dns_error, network, http_5xx, ...
	)

	AbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_abandoned_total",
			Help: "Total number of tasks dropped after the retry budget was exhausted.",
		},
	)

	RegistryOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_registry_operations_total",
			Help: "Endpoint registry writes by operation and result.",
		},
		[]string{"op", "result"},
	)

	WorkerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_worker_backlog",
			Help: "Messages waiting in the deliveries channel.",
		},
	)

	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookrelay_nsq_topic_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		DispatchesTotal,
		TasksEnqueuedTotal,
		DeliveryAttemptsTotal,
		DeliveryLatencySeconds,
		HTTPResponsesTotal,
		RetriesTotal,
		AbandonedTotal,
		RegistryOpsTotal,
		WorkerBacklog,
		NSQTopicDepth,
	)
}

// RecordDispatch counts one dispatch and the tasks it enqueued
func RecordDispatch(eventType string, fanout int) {
	DispatchesTotal.WithLabelValues(eventType, strconv.FormatBool(fanout > 0)).Inc()
	if fanout > 0 {
		TasksEnqueuedTotal.WithLabelValues(eventType).Add(float64(fanout))
	}
}

// RecordAttempt records one delivery attempt. status is 0 when no response arrived.
func RecordAttempt(ok bool, status int, latency time.Duration) {
	outcome := "completed"
	if !ok {
		outcome = "failed"
	}
	DeliveryAttemptsTotal.WithLabelValues(outcome).Inc()
	DeliveryLatencySeconds.Observe(latency.Seconds())
	if status > 0 {
		HTTPResponsesTotal.WithLabelValues(StatusClass(status)).Inc()
	}
}

// RecordMalformed counts a queued task that could not be decoded. No request
// was made, so neither latency nor a status class is recorded.
func RecordMalformed() {
	DeliveryAttemptsTotal.WithLabelValues("malformed").Inc()
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordAbandoned() {
	AbandonedTotal.Inc()
}

func RecordRegistryOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RegistryOpsTotal.WithLabelValues(op, result).Inc()
}

func UpdateWorkerBacklog(depth float64) {
	WorkerBacklog.Set(depth)
}

func UpdateNSQTopicDepth(topic, channel string, depth float64) {
	NSQTopicDepth.WithLabelValues(topic, channel).Set(depth)
}

// StatusClass maps 404 to "4xx"
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
