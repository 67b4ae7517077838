package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/jackc/pgx/v5"
)

type ResponseRepository struct {
	q Executor
}

func NewResponseRepository(db *DB) *ResponseRepository {
	return &ResponseRepository{q: db.Pool}
}

func (r *ResponseRepository) Create(ctx context.Context, resp *domain.Response) error {
	query := `
		INSERT INTO responses (id, citizen_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.q.Exec(ctx, query, resp.ID, resp.CitizenID, resp.Payload, resp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create response: %w", err)
	}
	return nil
}

func (r *ResponseRepository) FindByID(ctx context.Context, id string) (*domain.Response, error) {
	query := `SELECT id, citizen_id, payload, created_at FROM responses WHERE id = $1`

	var m ResponseModel
	err := r.q.QueryRow(ctx, query, id).Scan(&m.ID, &m.CitizenID, &m.Payload, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewResponseNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to scan response: %w", err)
	}
	return m.toDomain(), nil
}
