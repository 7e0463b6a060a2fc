package health

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// Pinger is satisfied by *pgxpool.Pool and anything wrapped in PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check is one named dependency probed by the handler.
type Check struct {
	Name   string
	Pinger Pinger
}

type Status struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Run pings every check with a shared 1s budget
func Run(ctx context.Context, checks ...Check) Status {
	st := Status{OK: true, Message: "ok"}
	if len(checks) == 0 {
		return st
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	st.Checks = make(map[string]string, len(checks))
	for _, c := range checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			st.OK = false
			st.Message = c.Name + " ping failed"
			st.Checks[c.Name] = err.Error()
			continue
		}
		st.Checks[c.Name] = "ok"
	}
	return st
}

// HTTPHandler reports 200 when every check passes and 503 otherwise
func HTTPHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Run(r.Context(), checks...)
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
