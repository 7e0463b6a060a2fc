package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/hookrelay/internal/logging"
)

const envelope = `{"event_type":"article_created","payload":{"data":{"id":"1","type":"article","attributes":{}}}}`

func newReceiver(failFirstN int64, delay time.Duration) *receiver {
	return &receiver{failFirstN: failFirstN, delay: delay, logger: logging.NewWithWriter("fake-receiver-test", io.Discard)}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"longer", "hello world", 5, "hello..."},
		{"empty", "", 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestHealthzHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	newReceiver(0, 0).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"ok":true}` {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHook(t *testing.T) {
	tests := []struct {
		name       string
		failFirstN int64
		method     string
		path       string
		body       string
		wantCodes  []int
	}{
		{"accepts envelope", 0, http.MethodPost, "/hook", envelope, []int{200, 200}},
		{"sub path", 0, http.MethodPost, "/hook/endpoint-1", envelope, []int{200}},
		{"fails first two", 2, http.MethodPost, "/hook", envelope, []int{500, 500, 200}},
		{"rejects non-envelope", 0, http.MethodPost, "/hook", `{"hello":"world"}`, []int{400}},
		{"rejects get", 0, http.MethodGet, "/hook", "", []int{405}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newReceiver(tt.failFirstN, 0).routes()
			for i, want := range tt.wantCodes {
				rec := httptest.NewRecorder()
				req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
				h.ServeHTTP(rec, req)
				if rec.Code != want {
					t.Errorf("request %d status = %d, want %d", i+1, rec.Code, want)
				}
			}
		})
	}
}

func TestHandleHookDelay(t *testing.T) {
	h := newReceiver(0, 30*time.Millisecond).routes()
	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(envelope)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("responded after %v, want >= 30ms", elapsed)
	}
}
