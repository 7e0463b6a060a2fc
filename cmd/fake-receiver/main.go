package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/logging"
)

// receiver is a local subscriber for end-to-end runs. It can fail its first
// N requests and delay every response to exercise worker retries and timeouts.
type receiver struct {
	failFirstN int64
	delay      time.Duration
	count      atomic.Int64
	logger     *logging.Logger
}

func main() {
	logger := logging.New("hookrelay-fake-receiver")
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	rc := &receiver{
		failFirstN: int64(cfg.FakeReceiver.FailFirstN),
		delay:      time.Duration(cfg.FakeReceiver.ResponseDelayMS) * time.Millisecond,
		logger:     logger,
	}

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	go func() {
		logger.Plain().WithField("addr", srv.Addr).Info("fake-receiver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("fake-receiver failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/hook", rc.handleHook)
	mux.HandleFunc("/hook/", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.count.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env event.Envelope
	if err := json.Unmarshal(b, &env); err != nil || env.EventType == "" {
		rc.logger.Plain().WithField("body", truncate(string(b), 160)).Warn("not a webhook envelope")
		http.Error(w, "invalid envelope", http.StatusBadRequest)
		return
	}

	if rc.delay > 0 {
		select {
		case <-time.After(rc.delay):
		case <-r.Context().Done():
			return
		}
	}

	entry := rc.logger.Plain().WithEventType(env.EventType).WithFields(map[string]any{
		"path":         r.URL.Path,
		"request":      n,
		"content_type": r.Header.Get("Content-Type"),
		"trace_id":     r.Header.Get("X-Trace-Id"),
	})

	// flakiness: first N requests get a 500
	if n <= rc.failFirstN {
		entry.Warnf("FAILING (%d/%d) body=%s", n, rc.failFirstN, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	entry.Infof("OK body=%q", truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
