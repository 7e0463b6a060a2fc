package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	// Record some values so vector metrics appear in Gather()
	RecordDispatch("article_created", 2)
	RecordAttempt(true, 200, 10*time.Millisecond)
	RecordRetry("timeout")
	RecordAbandoned()
	RecordRegistryOp("register", nil)
	UpdateWorkerBacklog(5)
	UpdateNSQTopicDepth("deliveries", "workers", 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}
	registered := make(map[string]bool)
	for _, mf := range families {
		registered[mf.GetName()] = true
	}

	expected := []string{
		"hookrelay_dispatches_total",
		"hookrelay_tasks_enqueued_total",
		"hookrelay_delivery_attempts_total",
		"hookrelay_delivery_latency_seconds",
		"hookrelay_http_responses_total",
		"hookrelay_retries_total",
		"hookrelay_abandoned_total",
		"hookrelay_registry_operations_total",
		"hookrelay_worker_backlog",
		"hookrelay_nsq_topic_depth",
	}
	for _, name := range expected {
		if !registered[name] {
			t.Errorf("Expected metric %s not found in registry", name)
		}
	}
}

func TestRecordDispatch(t *testing.T) {
	DispatchesTotal.Reset()
	TasksEnqueuedTotal.Reset()

	RecordDispatch("article_updated", 0)
	RecordDispatch("article_updated", 3)
	RecordDispatch("article_updated", 2)

	if got := testutil.ToFloat64(DispatchesTotal.WithLabelValues("article_updated", "false")); got != 1 {
		t.Errorf("unmatched dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DispatchesTotal.WithLabelValues("article_updated", "true")); got != 2 {
		t.Errorf("matched dispatches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(TasksEnqueuedTotal.WithLabelValues("article_updated")); got != 5 {
		t.Errorf("tasks enqueued = %v, want 5", got)
	}
}

func TestRecordAttempt(t *testing.T) {
	DeliveryAttemptsTotal.Reset()
	HTTPResponsesTotal.Reset()

	tests := []struct {
		name   string
		ok     bool
		status int
	}{
		{"completed 200", true, 200},
		{"completed 500 without inspection", true, 500},
		{"transport failure", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordAttempt(tt.ok, tt.status, time.Millisecond)
		})
	}

	if got := testutil.ToFloat64(DeliveryAttemptsTotal.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(DeliveryAttemptsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(HTTPResponsesTotal); got != 2 {
		t.Errorf("status classes = %d, want 2 (no class for transport failures)", got)
	}
}

func TestRecordMalformed(t *testing.T) {
	DeliveryAttemptsTotal.Reset()
	HTTPResponsesTotal.Reset()

	RecordMalformed()
	RecordMalformed()

	tests := []struct {
		outcome string
		want    float64
	}{
		{"malformed", 2},
		{"failed", 0},
		{"completed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			if got := testutil.ToFloat64(DeliveryAttemptsTotal.WithLabelValues(tt.outcome)); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}
	if got := testutil.CollectAndCount(HTTPResponsesTotal); got != 0 {
		t.Errorf("status classes = %d, want 0", got)
	}
}

func TestRecordRegistryOp(t *testing.T) {
	RegistryOpsTotal.Reset()

	RecordRegistryOp("register", nil)
	RecordRegistryOp("register", errors.New("duplicate"))

	if got := testutil.ToFloat64(RegistryOpsTotal.WithLabelValues("register", "ok")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RegistryOpsTotal.WithLabelValues("register", "error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	UpdateWorkerBacklog(42)
	if got := testutil.ToFloat64(WorkerBacklog); got != 42 {
		t.Errorf("WorkerBacklog = %v, want 42", got)
	}
	UpdateNSQTopicDepth("deliveries", "workers", 7)
	if got := testutil.ToFloat64(NSQTopicDepth.WithLabelValues("deliveries", "workers")); got != 7 {
		t.Errorf("NSQTopicDepth = %v, want 7", got)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{503, "5xx"},
		{0, "other"},
		{999, "other"},
	}
	for _, tt := range tests {
		if got := StatusClass(tt.status); got != tt.want {
			t.Errorf("StatusClass(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
