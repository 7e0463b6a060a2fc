package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/hookrelay/internal/metrics"
)

const statsJSON = `{
  "version": "1.3.0",
  "topics": [
    {"topic_name": "webhook_deliveries", "channels": [
      {"channel_name": "workers", "depth": 42},
      {"channel_name": "audit", "depth": 7}
    ]},
    {"topic_name": "other", "channels": [
      {"channel_name": "workers", "depth": 999}
    ]}
  ]
}`

func TestBacklogMonitorPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(statsJSON))
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	m := NewBacklogMonitor(addr, "webhook_deliveries", "workers", time.Minute, testLogger())
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.WorkerBacklog); got != 42 {
		t.Errorf("worker backlog = %v, want 42", got)
	}
	if got := testutil.ToFloat64(metrics.NSQTopicDepth.WithLabelValues("webhook_deliveries", "audit")); got != 7 {
		t.Errorf("audit depth = %v, want 7", got)
	}
}

func TestBacklogMonitorTopicQuery(t *testing.T) {
	tests := []struct {
		name  string
		topic string
	}{
		{"plain", "webhook_deliveries"},
		{"ephemeral", "webhook_deliveries#ephemeral"},
		{"query separators", "a&format=xml"},
		{"plus sign", "a+b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTopic, gotFormat string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTopic = r.URL.Query().Get("topic")
				gotFormat = r.URL.Query().Get("format")
				_, _ = w.Write([]byte(`{"topics":[]}`))
			}))
			defer srv.Close()

			m := NewBacklogMonitor(strings.TrimPrefix(srv.URL, "http://"), tt.topic, "workers", time.Minute, testLogger())
			if err := m.Poll(context.Background()); err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if gotTopic != tt.topic {
				t.Errorf("topic query = %q, want %q", gotTopic, tt.topic)
			}
			if gotFormat != "json" {
				t.Errorf("format query = %q, want json", gotFormat)
			}
		})
	}
}

func TestBacklogMonitorPollErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("topic") == "broken" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	for _, topic := range []string{"broken", "webhook_deliveries"} {
		m := NewBacklogMonitor(addr, topic, "workers", 0, testLogger())
		if err := m.Poll(context.Background()); err == nil {
			t.Errorf("Poll(%s) expected error", topic)
		}
	}
}

func TestBacklogMonitorRunStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"topics":[]}`))
	}))
	defer srv.Close()

	m := NewBacklogMonitor(strings.TrimPrefix(srv.URL, "http://"), "t", "c", 10*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
