package domain

import "time"

// JobKind enumerates the capabilities that can produce a job.
type JobKind string

const (
	JobKindGenerated JobKind = "generated"
	JobKindEdited    JobKind = "edited"
	JobKindUpscaled  JobKind = "upscaled"
	JobKindBGRemoved JobKind = "bg-removed"
	JobKindRestored  JobKind = "restored"
	JobKindMixed     JobKind = "mixed"
)

// JobStatus enumerates job lifecycle states. Transitions only move forward:
// pending -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the persistent ledger entry for one capability invocation, tracked
// from creation through its terminal outcome. ResultURL is non-empty only for
// completed jobs; ErrorMessage is set only for failed ones.
type Job struct {
	ID             string
	OwnerID        string
	Kind           JobKind
	Prompt         string
	NegativePrompt string
	Model          string
	SourceURL      string
	ResultURL      string
	ThumbnailURL   string
	Status         JobStatus
	ErrorMessage   string
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobStats summarizes a user's library by kind and status.
type JobStats struct {
	Total      int
	Generated  int
	Edited     int
	Upscaled   int
	BGRemoved  int
	Restored   int
	Mixed      int
	Completed  int
	Processing int
	Failed     int
}
