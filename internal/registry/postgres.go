package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/austindbirch/hookrelay/internal/event"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

const endpointColumns = `id, owner_id, application_id, target_url, events, source, created_at, updated_at`

// PostgresStore persists endpoints in hookrelay.webhook_endpoints.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, ep *Endpoint) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.webhook_endpoints (owner_id, application_id, target_url, events, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		ep.OwnerID, ep.ApplicationID, ep.TargetURL, event.Strings(ep.Events), ep.Source,
	).Scan(&ep.ID, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return ErrDuplicateURL
			case checkViolation:
				return checkViolationError(pgErr)
			}
		}
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// checkViolationError maps a table CHECK failure to the field it guards
func checkViolationError(pgErr *pgconn.PgError) *ValidationError {
	switch pgErr.ConstraintName {
	case "ck_webhook_endpoints_events_nonempty":
		return &ValidationError{Field: "events", Message: "must include at least one supported event type", Err: pgErr}
	default:
		return &ValidationError{Field: "target_url", Message: "must use https", Err: pgErr}
	}
}

func (s *PostgresStore) UpdateEvents(ctx context.Context, id, ownerID int64, events []event.Type) (*Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE hookrelay.webhook_endpoints
		SET events = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+endpointColumns,
		id, ownerID, event.Strings(events),
	)
	return scanEndpoint(row)
}

func (s *PostgresStore) Get(ctx context.Context, id, ownerID int64) (*Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+endpointColumns+`
		FROM hookrelay.webhook_endpoints
		WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	return scanEndpoint(row)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID int64) ([]Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+`
		FROM hookrelay.webhook_endpoints
		WHERE owner_id = $1
		ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MatchURLs(ctx context.Context, eventType event.Type, ownerID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT target_url
		FROM hookrelay.webhook_endpoints
		WHERE owner_id = $1 AND events @> ARRAY[$2::text]
		ORDER BY id`,
		ownerID, string(eventType),
	)
	if err != nil {
		return nil, fmt.Errorf("match webhook endpoints: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("match webhook endpoints: %w", err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id, ownerID int64) error {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM hookrelay.webhook_endpoints WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteByOwnerAndApplication(ctx context.Context, ownerID, applicationID int64) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM hookrelay.webhook_endpoints WHERE owner_id = $1 AND application_id = $2`,
		ownerID, applicationID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete application endpoints: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var (
		ep     Endpoint
		events []string
		source *string
	)
	err := row.Scan(&ep.ID, &ep.OwnerID, &ep.ApplicationID, &ep.TargetURL, &events, &source, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook endpoint: %w", err)
	}
	ep.Events = make([]event.Type, len(events))
	for i, e := range events {
		ep.Events[i] = event.Type(e)
	}
	if source != nil {
		ep.Source = *source
	}
	return &ep, nil
}
