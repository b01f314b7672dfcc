package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// TrendingRepositoryPG implements domain.TrendingRepository on PostgreSQL.
type TrendingRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTrendingRepository constructs a trending repository.
func NewTrendingRepository(pool *pgxpool.Pool) *TrendingRepositoryPG {
	return &TrendingRepositoryPG{pool: pool}
}

// Bump upserts the (jobID, day) entry, adds the deltas and recomputes the
// score with the standard weights (views 1, likes 5, shares 10).
func (r *TrendingRepositoryPG) Bump(ctx context.Context, jobID, day string, views, likes, shares int) error {
	query := `
INSERT INTO trending (id, job_id, day, views, likes, shares, score, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $4 + $5 * 5 + $6 * 10, NOW())
ON CONFLICT (job_id, day) DO UPDATE
SET views = trending.views + EXCLUDED.views,
    likes = trending.likes + EXCLUDED.likes,
    shares = trending.shares + EXCLUDED.shares,
    score = (trending.views + EXCLUDED.views)
          + (trending.likes + EXCLUDED.likes) * 5
          + (trending.shares + EXCLUDED.shares) * 10,
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, query, uuid.NewString(), jobID, day, views, likes, shares)
	if err != nil {
		return fmt.Errorf("bump trending: %w", err)
	}
	return nil
}

// ListTop returns the highest-scoring completed images for a day.
func (r *TrendingRepositoryPG) ListTop(ctx context.Context, day string, limit int) ([]domain.TrendingImage, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT t.score, t.views, t.likes, t.shares, ` + prefixedJobColumns("j") + `
FROM trending t
JOIN jobs j ON j.id = t.job_id
WHERE t.day = $1 AND j.status = 'completed'
ORDER BY t.score DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, day, limit)
	if err != nil {
		return nil, fmt.Errorf("list trending: %w", err)
	}
	defer rows.Close()

	var items []domain.TrendingImage
	for rows.Next() {
		var (
			item     domain.TrendingImage
			metadata []byte
		)
		if err := rows.Scan(
			&item.Score,
			&item.Views,
			&item.Likes,
			&item.Shares,
			&item.Job.ID,
			&item.Job.OwnerID,
			&item.Job.Kind,
			&item.Job.Prompt,
			&item.Job.NegativePrompt,
			&item.Job.Model,
			&item.Job.SourceURL,
			&item.Job.ResultURL,
			&item.Job.ThumbnailURL,
			&item.Job.Status,
			&item.Job.ErrorMessage,
			&metadata,
			&item.Job.CreatedAt,
			&item.Job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &item.Job.Metadata); err != nil {
				return nil, fmt.Errorf("decode job metadata: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func prefixedJobColumns(alias string) string {
	return alias + `.id, ` + alias + `.owner_id, ` + alias + `.kind, ` + alias + `.prompt, ` +
		alias + `.negative_prompt, ` + alias + `.model, ` + alias + `.source_url, ` +
		alias + `.result_url, ` + alias + `.thumbnail_url, ` + alias + `.status, ` +
		alias + `.error_message, ` + alias + `.metadata, ` + alias + `.created_at, ` + alias + `.updated_at`
}

var _ domain.TrendingRepository = (*TrendingRepositoryPG)(nil)
