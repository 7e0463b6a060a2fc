package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter("delivery-test", io.Discard)
}

func TestWorkerDeliver(t *testing.T) {
	body := `{"event_type":"article_updated","payload":{"data":{"id":"1"}}}`

	tests := []struct {
		name            string
		status          int
		failOnHTTPError bool
		wantErr         bool
	}{
		{name: "200 delivered", status: http.StatusOK},
		{name: "204 delivered", status: http.StatusNoContent},
		{name: "500 still counts as delivered", status: http.StatusInternalServerError},
		{name: "404 still counts as delivered", status: http.StatusNotFound},
		{name: "500 fails when configured", status: http.StatusInternalServerError, failOnHTTPError: true, wantErr: true},
		{name: "202 ok when configured", status: http.StatusAccepted, failOnHTTPError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				gotMethod, gotCT, gotBody string
				calls                     int32
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				gotMethod = r.Method
				gotCT = r.Header.Get("Content-Type")
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			w := NewWorker(Options{Timeout: time.Second, FailOnHTTPError: tt.failOnHTTPError}, testLogger())
			res, err := w.Deliver(context.Background(), Task{URL: srv.URL, Body: body})

			if tt.wantErr {
				var se *StatusError
				if !errors.As(err, &se) || se.Status != tt.status {
					t.Fatalf("Deliver() error = %v, want StatusError(%d)", err, tt.status)
				}
			} else if err != nil {
				t.Fatalf("Deliver() unexpected error: %v", err)
			}
			if res == nil || res.Status != tt.status {
				t.Errorf("Result = %+v, want status %d", res, tt.status)
			}
			if calls != 1 {
				t.Errorf("server called %d times, want 1", calls)
			}
			if gotMethod != http.MethodPost {
				t.Errorf("method = %s, want POST", gotMethod)
			}
			if gotCT != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", gotCT)
			}
			if gotBody != body {
				t.Errorf("body = %s, want %s", gotBody, body)
			}
		})
	}
}

func TestWorkerDeliverTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	failedBefore := testutil.ToFloat64(metrics.DeliveryAttemptsTotal.WithLabelValues("failed"))

	w := NewWorker(Options{Timeout: 50 * time.Millisecond}, testLogger())
	start := time.Now()
	_, err := w.Deliver(context.Background(), Task{URL: srv.URL, Body: `{}`})
	if err == nil {
		t.Fatal("Deliver() expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Deliver() took %v, timeout not applied", elapsed)
	}
	if got := classifyReason(err); got != "timeout" {
		t.Errorf("classifyReason() = %q, want timeout", got)
	}
	if got := testutil.ToFloat64(metrics.DeliveryAttemptsTotal.WithLabelValues("failed")) - failedBefore; got != 1 {
		t.Errorf("failed attempts recorded = %v, want 1", got)
	}
}

func TestWorkerDeliverConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	w := NewWorker(Options{Timeout: time.Second}, testLogger())
	if _, err := w.Deliver(context.Background(), Task{URL: url, Body: `{}`}); err == nil {
		t.Fatal("Deliver() to closed server expected error")
	}
}

func TestWorkerDeliverMalformedTask(t *testing.T) {
	w := NewWorker(Options{}, testLogger())
	tests := []Task{
		{Body: `{}`},
		{URL: "https://example.com/hook"},
	}
	for _, task := range tests {
		if _, err := w.Deliver(context.Background(), task); !errors.Is(err, ErrMalformedTask) {
			t.Errorf("Deliver(%+v) error = %v, want ErrMalformedTask", task, err)
		}
	}
}

func TestNewWorkerDefaultTimeout(t *testing.T) {
	w := NewWorker(Options{}, testLogger())
	if w.client.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", w.client.Timeout, DefaultTimeout)
	}
}
