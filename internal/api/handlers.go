package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/payload"
	"github.com/austindbirch/hookrelay/internal/registry"
)

const maxBodyBytes = 1 << 20

type createWebhookRequest struct {
	TargetURL     string   `json:"target_url"`
	Events        []string `json:"events"`
	ApplicationID *int64   `json:"application_id,omitempty"`
	Source        string   `json:"source,omitempty"`
}

type updateWebhookRequest struct {
	Events []string `json:"events" validate:"required"`
}

type dispatchRequest struct {
	EventType string           `json:"event_type" validate:"required"`
	Article   *payload.Article `json:"article" validate:"required"`
}

type listWebhooksResponse struct {
	Webhooks []registry.Endpoint `json:"webhooks"`
}

type dispatchResponse struct {
	Fanout int `json:"fanout"`
}

type removedResponse struct {
	Removed int64 `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())

	var req createWebhookRequest
	if !s.decode(w, r, &req) {
		return
	}

	ep, err := s.registry.Register(r.Context(), registry.RegisterParams{
		OwnerID:       ownerID,
		ApplicationID: req.ApplicationID,
		TargetURL:     req.TargetURL,
		Events:        req.Events,
		Source:        req.Source,
	})
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())

	eps, err := s.registry.List(r.Context(), ownerID)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listWebhooksResponse{Webhooks: eps})
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ep, err := s.registry.Get(r.Context(), id, ownerID)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req updateWebhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeValidation(w, "events", "can't be blank")
		return
	}

	ep, err := s.registry.UpdateEventTypes(r.Context(), id, ownerID, req.Events)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := s.registry.Remove(r.Context(), id, ownerID); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteApplicationWebhooks(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	appID, ok := pathID(w, r, "applicationID")
	if !ok {
		return
	}

	n, err := s.registry.RemoveByOwnerAndApplication(r.Context(), ownerID, appID)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}

// dispatch fans an event out for an article owned by the caller
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())

	var req dispatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		field := "request"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = map[string]string{"EventType": "event_type", "Article": "article"}[verrs[0].Field()]
		}
		writeValidation(w, field, "can't be blank")
		return
	}
	if !event.Known(req.EventType) {
		writeValidation(w, "event_type", "is not a supported event type")
		return
	}
	if req.Article.UserID == 0 {
		req.Article.UserID = ownerID
	}
	if req.Article.UserID != ownerID {
		writeError(w, http.StatusForbidden, "article belongs to another owner")
		return
	}

	n, err := s.dispatcher.Dispatch(r.Context(), event.Type(req.EventType), req.Article)
	if err != nil {
		if errors.Is(err, payload.ErrInvalidPayloadObject) {
			writeValidation(w, "article", err.Error())
			return
		}
		s.logger.WithContext(r.Context()).WithOwner(ownerID).WithEventType(req.EventType).
			WithField("fanout", n).WithError(err).Error("dispatch failed")
		writeError(w, http.StatusBadGateway, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusAccepted, dispatchResponse{Fanout: n})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return false
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *registry.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr.Field, verr.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	default:
		s.logger.WithContext(r.Context()).WithError(err).Error("registry operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "webhook not found")
		return 0, false
	}
	return id, true
}

func writeValidation(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: msg, Field: field})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
