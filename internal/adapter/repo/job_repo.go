package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool, logger zerolog.Logger) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool, logger: logger}
}

const jobColumns = `id, owner_id, kind, prompt, negative_prompt, model, source_url,
result_url, thumbnail_url, status, error_message, metadata, created_at, updated_at`

// CreatePending inserts a new pending job and returns its id.
func (r *JobRepositoryPG) CreatePending(ctx context.Context, job *domain.Job) (string, error) {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return "", err
	}
	query := `
INSERT INTO jobs (id, owner_id, kind, prompt, negative_prompt, model, source_url, status, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err = r.pool.Exec(ctx, query,
		id,
		job.OwnerID,
		job.Kind,
		job.Prompt,
		job.NegativePrompt,
		job.Model,
		job.SourceURL,
		domain.JobStatusPending,
		metadata,
	)
	if err != nil {
		return "", fmt.Errorf("create pending job: %w", err)
	}
	return id, nil
}

// MarkCompleted sets the durable result URL and merges the metadata patch into
// the existing metadata (jsonb union, patch keys win). Only non-terminal rows
// transition; replaying a terminal transition is logged and ignored.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, resultURL, thumbnailURL string, metadata map[string]any) error {
	patch, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	query := `
UPDATE jobs
SET result_url = $2,
    thumbnail_url = CASE WHEN $3 <> '' THEN $3 ELSE thumbnail_url END,
    metadata = metadata || $4::jsonb,
    status = 'completed',
    updated_at = NOW()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, query, jobID, resultURL, thumbnailURL, patch)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainSkippedTransition(ctx, jobID, domain.JobStatusCompleted)
	}
	return nil
}

// MarkFailed records the failure message. Safe to repeat on an already-failed
// job; a completed job is never downgraded.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, message string) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_message = $2,
    updated_at = NOW()
WHERE id = $1 AND status <> 'completed';
`
	tag, err := r.pool.Exec(ctx, query, jobID, message)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainSkippedTransition(ctx, jobID, domain.JobStatusFailed)
	}
	return nil
}

// explainSkippedTransition distinguishes a missing row from a terminal one.
// The orchestrator calls at most one terminal transition per job, so hitting a
// terminal row here is a logic error worth logging, not a hard failure.
func (r *JobRepositoryPG) explainSkippedTransition(ctx context.Context, jobID string, wanted domain.JobStatus) error {
	var status domain.JobStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect job status: %w", err)
	}
	if status == wanted && wanted == domain.JobStatusFailed {
		return nil
	}
	r.logger.Error().
		Str("job_id", jobID).
		Str("status", string(status)).
		Str("wanted", string(wanted)).
		Msg("repo: refused terminal transition on terminal job")
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByOwner returns the owner's completed jobs, newest first.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, q domain.JobQuery) ([]domain.Job, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE owner_id = $1
  AND status = 'completed'
  AND ($2 = '' OR kind = $2)
ORDER BY created_at DESC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, query, ownerID, string(q.Kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteByID hard-deletes a job after verifying ownership.
func (r *JobRepositoryPG) DeleteByID(ctx context.Context, jobID, requestingOwnerID string) error {
	var ownerID string
	err := r.pool.QueryRow(ctx, `SELECT owner_id FROM jobs WHERE id = $1;`, jobID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load job owner: %w", err)
	}
	if ownerID != requestingOwnerID {
		return domain.ErrUnauthorized
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// escapeLikeTerm neutralizes LIKE metacharacters so a term like "100%" is
// matched literally instead of acting as a wildcard.
func escapeLikeTerm(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

// SearchByPrompt matches the term case-insensitively against prompt and
// negative prompt of the owner's completed jobs.
func (r *JobRepositoryPG) SearchByPrompt(ctx context.Context, ownerID, term string) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE owner_id = $1
  AND status = 'completed'
  AND (prompt ILIKE '%' || $2 || '%' ESCAPE '\'
       OR negative_prompt ILIKE '%' || $2 || '%' ESCAPE '\')
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, ownerID, escapeLikeTerm(term))
	if err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListRecent returns the latest completed jobs across all owners.
func (r *JobRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE status = 'completed'
ORDER BY created_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// StatsByOwner rolls up a user's library by kind and status.
func (r *JobRepositoryPG) StatsByOwner(ctx context.Context, ownerID string) (*domain.JobStats, error) {
	query := `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE kind = 'generated'),
  COUNT(*) FILTER (WHERE kind = 'edited'),
  COUNT(*) FILTER (WHERE kind = 'upscaled'),
  COUNT(*) FILTER (WHERE kind = 'bg-removed'),
  COUNT(*) FILTER (WHERE kind = 'restored'),
  COUNT(*) FILTER (WHERE kind = 'mixed'),
  COUNT(*) FILTER (WHERE status = 'completed'),
  COUNT(*) FILTER (WHERE status IN ('pending', 'processing')),
  COUNT(*) FILTER (WHERE status = 'failed')
FROM jobs
WHERE owner_id = $1;
`
	var stats domain.JobStats
	err := r.pool.QueryRow(ctx, query, ownerID).Scan(
		&stats.Total,
		&stats.Generated,
		&stats.Edited,
		&stats.Upscaled,
		&stats.BGRemoved,
		&stats.Restored,
		&stats.Mixed,
		&stats.Completed,
		&stats.Processing,
		&stats.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job      domain.Job
		metadata []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Prompt,
		&job.NegativePrompt,
		&job.Model,
		&job.SourceURL,
		&job.ResultURL,
		&job.ThumbnailURL,
		&job.Status,
		&job.ErrorMessage,
		&metadata,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode job metadata: %w", err)
	}
	return data, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
