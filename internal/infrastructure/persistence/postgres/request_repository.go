package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/jackc/pgx/v5"
)

var ErrDuplicateRequest = errors.New("request already exists")

const requestColumns = `id, query_signature, citizen_id, preferred_languages, status,
		       response_ids, failure_message, created_at, updated_at`

type RequestRepository struct {
	q Executor
}

func NewRequestRepository(db *DB) *RequestRepository {
	return &RequestRepository{q: db.Pool}
}

func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	query := `
		INSERT INTO requests (
			id, query_signature, citizen_id, preferred_languages, status,
			response_ids, failure_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	m := toRequestModel(req)
	_, err := r.q.Exec(ctx, query,
		m.ID,
		m.QuerySignature,
		m.CitizenID,
		m.PreferredLanguages,
		m.Status,
		m.ResponseIDs,
		m.FailureMessage,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (r *RequestRepository) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewRequestNotFoundError(id)
		}
		return nil, err
	}
	return req, nil
}

// UpdateStatus is a compare-and-set on status. A missing row and a row whose
// status moved on are reported differently.
func (r *RequestRepository) UpdateStatus(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error {
	query := `
		UPDATE requests
		SET status = $1, response_ids = $2, failure_message = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`

	m := toRequestModel(req)
	tag, err := r.q.Exec(ctx, query,
		m.Status,
		m.ResponseIDs,
		m.FailureMessage,
		m.UpdatedAt,
		m.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`, req.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check request existence: %w", err)
		}
		if !exists {
			return domain.NewRequestNotFoundError(req.ID)
		}
		return domain.NewConcurrentModificationError(req.ID, expected)
	}
	return nil
}

// CountRunning counts the citizen's in-flight requests created at or after since.
// There is no upper bound: a row committed by a concurrent creator with a
// later clock reading still counts.
func (r *RequestRepository) CountRunning(ctx context.Context, citizenID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM requests
		WHERE citizen_id = $1
		  AND status = ANY($2)
		  AND created_at >= $3
	`

	statuses := make([]string, 0, len(domain.InFlightStatuses))
	for _, s := range domain.InFlightStatuses {
		statuses = append(statuses, string(s))
	}

	var count int
	if err := r.q.QueryRow(ctx, query, citizenID, statuses, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count running requests: %w", err)
	}
	return count, nil
}

func (r *RequestRepository) FindEquivalent(ctx context.Context, citizenID, querySignature string, from, to time.Time) ([]*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE citizen_id = $1
		  AND query_signature = $2
		  AND status = $3
		  AND cardinality(response_ids) > 0
		  AND created_at >= $4
		  AND created_at < $5
		ORDER BY created_at DESC
	`

	rows, err := r.q.Query(ctx, query, citizenID, querySignature, string(domain.StatusCompleted), from, to)
	if err != nil {
		return nil, fmt.Errorf("query equivalent requests: %w", err)
	}
	return collectRequests(rows)
}

func (r *RequestRepository) FindByCitizen(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE citizen_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, citizenID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query requests by citizen_id: %w", err)
	}
	return collectRequests(rows)
}

// FindStale returns requests awaiting a notification that have not moved
// since olderThan, oldest first.
func (r *RequestRepository) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status IN ($1, $2)
		  AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`

	rows, err := r.q.Query(ctx, query,
		string(domain.StatusRunning),
		string(domain.StatusPartiallyCompleted),
		olderThan,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale requests: %w", err)
	}
	return collectRequests(rows)
}

// LockCitizen takes a transaction-scoped advisory lock. Outside a transaction
// the lock is released as soon as the statement ends.
func (r *RequestRepository) LockCitizen(ctx context.Context, citizenID string) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, citizenID); err != nil {
		return fmt.Errorf("lock citizen: %w", err)
	}
	return nil
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var m RequestModel
	err := row.Scan(
		&m.ID, &m.QuerySignature, &m.CitizenID, &m.PreferredLanguages, &m.Status,
		&m.ResponseIDs, &m.FailureMessage, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	return m.toDomain(), nil
}

func collectRequests(rows pgx.Rows) ([]*domain.Request, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Request, error) {
		return scanRequest(row)
	})
	if err != nil {
		return nil, fmt.Errorf("error occurred while scanning rows: %w", err)
	}
	return results, nil
}
