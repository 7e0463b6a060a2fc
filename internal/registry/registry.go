package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
)

// RegisterParams is the input of Register. Events may contain unknown tags;
// they are dropped before persisting.
type RegisterParams struct {
	OwnerID       int64    `json:"-" validate:"required,gt=0"`
	ApplicationID *int64   `json:"application_id,omitempty" validate:"omitempty,gt=0"`
	TargetURL     string   `json:"target_url" validate:"required,url,max=2048"`
	Events        []string `json:"events" validate:"required,min=1"`
	Source        string   `json:"source,omitempty" validate:"max=64"`
}

// Registry owns endpoint records. Build one per process and share it.
type Registry struct {
	store    Store
	validate *validator.Validate
	logger   *logging.Logger
}

func New(store Store, logger *logging.Logger) *Registry {
	return &Registry{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// EndpointsFor returns the URLs of ownerID's endpoints subscribed to
// eventType. No match is an empty slice, not an error.
func (r *Registry) EndpointsFor(ctx context.Context, eventType event.Type, ownerID int64) ([]string, error) {
	urls, err := r.store.MatchURLs(ctx, eventType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("match endpoints: %w", err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

// Register validates and stores a new endpoint
func (r *Registry) Register(ctx context.Context, p RegisterParams) (*Endpoint, error) {
	ep, err := r.register(ctx, p)
	metrics.RecordRegistryOp("register", err)
	return ep, err
}

func (r *Registry) register(ctx context.Context, p RegisterParams) (*Endpoint, error) {
	p.TargetURL = strings.TrimSpace(p.TargetURL)
	if err := r.validate.Struct(p); err != nil {
		return nil, fromValidator(err)
	}
	target, err := canonicalTargetURL(p.TargetURL)
	if err != nil {
		return nil, err
	}

	events, dropped := event.Filter(p.Events)
	r.reportDropped(p.OwnerID, dropped)
	if len(events) == 0 {
		return nil, invalid("events", "must include at least one supported event type")
	}

	ep := &Endpoint{
		OwnerID:       p.OwnerID,
		ApplicationID: p.ApplicationID,
		TargetURL:     target,
		Events:        events,
		Source:        p.Source,
	}
	if err := r.store.Insert(ctx, ep); err != nil {
		if errors.Is(err, ErrDuplicateURL) {
			return nil, &ValidationError{Field: "target_url", Message: ErrDuplicateURL.Error(), Err: ErrDuplicateURL}
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, fmt.Errorf("insert endpoint: %w", err)
	}

	r.logger.WithContext(ctx).WithOwner(ep.OwnerID).WithEndpoint(ep.ID).
		WithField("events", event.Strings(ep.Events)).Info("endpoint registered")
	return ep, nil
}

// UpdateEventTypes replaces the subscription list. Unknown tags are dropped;
// an update leaving no known tag is rejected and nothing is written.
func (r *Registry) UpdateEventTypes(ctx context.Context, id, ownerID int64, requested []string) (*Endpoint, error) {
	events, dropped := event.Filter(requested)
	r.reportDropped(ownerID, dropped)

	var (
		ep  *Endpoint
		err error
	)
	if len(events) == 0 {
		err = invalid("events", "must include at least one supported event type")
	} else {
		ep, err = r.store.UpdateEvents(ctx, id, ownerID, events)
	}
	metrics.RecordRegistryOp("update_events", err)
	return ep, err
}

// Get returns one of ownerID's endpoints
func (r *Registry) Get(ctx context.Context, id, ownerID int64) (*Endpoint, error) {
	return r.store.Get(ctx, id, ownerID)
}

// List returns all endpoints of ownerID
func (r *Registry) List(ctx context.Context, ownerID int64) ([]Endpoint, error) {
	eps, err := r.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if eps == nil {
		eps = []Endpoint{}
	}
	return eps, nil
}

// Remove deletes a single endpoint
func (r *Registry) Remove(ctx context.Context, id, ownerID int64) error {
	err := r.store.Delete(ctx, id, ownerID)
	metrics.RecordRegistryOp("remove", err)
	return err
}

// RemoveByOwnerAndApplication deletes every endpoint of the pair; removing
// nothing is not an error.
func (r *Registry) RemoveByOwnerAndApplication(ctx context.Context, ownerID, applicationID int64) (int64, error) {
	n, err := r.store.DeleteByOwnerAndApplication(ctx, ownerID, applicationID)
	metrics.RecordRegistryOp("remove_by_application", err)
	if err != nil {
		return 0, err
	}
	r.logger.WithContext(ctx).WithOwner(ownerID).
		WithFields(map[string]any{"application_id": applicationID, "removed": n}).
		Info("application endpoints removed")
	return n, nil
}

func (r *Registry) reportDropped(ownerID int64, dropped []string) {
	if len(dropped) == 0 {
		return
	}
	r.logger.Plain().WithOwner(ownerID).WithField("dropped", dropped).Warn("unsupported event types ignored")
}

// canonicalTargetURL requires https and lowercases scheme and host, so URLs
// differing only in their case-insensitive parts collide on uniqueness.
func canonicalTargetURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", invalid("target_url", "is not a valid URL")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "https" {
		return "", invalid("target_url", "must use https")
	}
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "endpoint", Message: err.Error(), Err: err}
	}
	fe := verrs[0]
	field := map[string]string{
		"OwnerID":       "owner_id",
		"ApplicationID": "application_id",
		"TargetURL":     "target_url",
		"Events":        "events",
		"Source":        "source",
	}[fe.Field()]
	if field == "" {
		field = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return invalid(field, "can't be blank")
	case "url":
		return invalid(field, "is not a valid URL")
	case "min":
		return invalid(field, "must include at least one supported event type")
	case "max":
		return invalid(field, "is too long")
	default:
		return invalid(field, "is invalid")
	}
}
