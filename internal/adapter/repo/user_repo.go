package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository on PostgreSQL.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a user repository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// GetByID fetches a user. Credits default to the starting balance when unset.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
SELECT id, name, picture, COALESCE(credits, $2), COALESCE(NULLIF(tier, ''), 'free'), created_at, updated_at
FROM users
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id, domain.DefaultCredits)
	var user domain.User
	if err := row.Scan(&user.ID, &user.Name, &user.Picture, &user.Credits, &user.Tier, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// InitCredits grants the starting balance when none has been set. Idempotent.
func (r *UserRepositoryPG) InitCredits(ctx context.Context, id string) (*domain.User, error) {
	query := `
INSERT INTO users (id, credits, tier)
VALUES ($1, $2, 'free')
ON CONFLICT (id) DO UPDATE
SET credits = COALESCE(users.credits, EXCLUDED.credits),
    tier = COALESCE(NULLIF(users.tier, ''), 'free'),
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, query, id, domain.DefaultCredits); err != nil {
		return nil, fmt.Errorf("init credits: %w", err)
	}
	return r.GetByID(ctx, id)
}

// SpendCredits atomically deducts the amount, failing when the balance is
// insufficient.
func (r *UserRepositoryPG) SpendCredits(ctx context.Context, id string, amount int) (int, error) {
	query := `
UPDATE users
SET credits = COALESCE(credits, $3) - $2,
    updated_at = NOW()
WHERE id = $1 AND COALESCE(credits, $3) >= $2
RETURNING credits;
`
	var remaining int
	err := r.pool.QueryRow(ctx, query, id, amount, domain.DefaultCredits).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is missing or the balance is short.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, domain.ErrNoCredits
	}
	if err != nil {
		return 0, fmt.Errorf("spend credits: %w", err)
	}
	return remaining, nil
}

var _ domain.UserRepository = (*UserRepositoryPG)(nil)
