package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/austindbirch/hookrelay/internal/auth"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestID keeps a caller-supplied X-Request-ID or mints a UUID
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.logger.WithContext(r.Context()).WithFields(map[string]any{
			"request_id":  requestIDFrom(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if ww.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Debug("request served")
	})
}

// keyByOwner runs after auth, so every request carries an owner
func keyByOwner(r *http.Request) (string, error) {
	if ownerID, ok := auth.OwnerIDFromContext(r.Context()); ok {
		return "owner:" + strconv.FormatInt(ownerID, 10), nil
	}
	return httprate.KeyByIP(r)
}
