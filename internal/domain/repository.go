package domain

import "context"

// JobQuery narrows ListByOwner results.
type JobQuery struct {
	Kind  JobKind // optional, empty matches all kinds
	Limit int
}

// JobRepository is the persistent ledger of processing jobs.
type JobRepository interface {
	// CreatePending inserts a new pending job and returns its id.
	CreatePending(ctx context.Context, job *Job) (string, error)
	// MarkCompleted sets the durable result URL, merges the metadata patch
	// into the existing metadata (patch keys win) and moves the job to
	// completed. Returns ErrNotFound when the job does not exist.
	MarkCompleted(ctx context.Context, jobID, resultURL, thumbnailURL string, metadata map[string]any) error
	// MarkFailed records the failure message and moves the job to failed.
	// Calling it again on an already-failed job is harmless.
	MarkFailed(ctx context.Context, jobID, message string) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ListByOwner returns the owner's completed jobs, newest first.
	ListByOwner(ctx context.Context, ownerID string, q JobQuery) ([]Job, error)
	// DeleteByID hard-deletes a job. Returns ErrUnauthorized when
	// requestingOwnerID does not own the job.
	DeleteByID(ctx context.Context, jobID, requestingOwnerID string) error
	// SearchByPrompt matches the term case-insensitively against prompt and
	// negative prompt of the owner's completed jobs.
	SearchByPrompt(ctx context.Context, ownerID, term string) ([]Job, error)
	// ListRecent returns the latest completed jobs across all owners.
	ListRecent(ctx context.Context, limit int) ([]Job, error)
	StatsByOwner(ctx context.Context, ownerID string) (*JobStats, error)
}

// TrendingRepository keeps daily popularity counters per image.
type TrendingRepository interface {
	// Bump upserts the entry for (jobID, day), adding the deltas and
	// recomputing the score.
	Bump(ctx context.Context, jobID, day string, views, likes, shares int) error
	// ListTop returns the highest-scoring completed images for a day.
	ListTop(ctx context.Context, day string, limit int) ([]TrendingImage, error)
}

// UserRepository handles credit and tier bookkeeping.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// InitCredits grants the starting balance when none has been set.
	InitCredits(ctx context.Context, id string) (*User, error)
	// SpendCredits atomically deducts the amount, failing with ErrNoCredits
	// when the balance is insufficient.
	SpendCredits(ctx context.Context, id string, amount int) (remaining int, err error)
}
