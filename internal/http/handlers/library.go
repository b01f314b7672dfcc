package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

type jobView struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Kind           string         `json:"kind"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Model          string         `json:"model"`
	SourceURL      string         `json:"source_url,omitempty"`
	ResultURL      string         `json:"result_url"`
	ThumbnailURL   string         `json:"thumbnail_url,omitempty"`
	Status         string         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type statusView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Done   bool   `json:"done"`
}

func viewOf(job domain.Job) jobView {
	return jobView{
		ID:             job.ID,
		OwnerID:        job.OwnerID,
		Kind:           string(job.Kind),
		Prompt:         job.Prompt,
		NegativePrompt: job.NegativePrompt,
		Model:          job.Model,
		SourceURL:      job.SourceURL,
		ResultURL:      job.ResultURL,
		ThumbnailURL:   job.ThumbnailURL,
		Status:         string(job.Status),
		ErrorMessage:   job.ErrorMessage,
		Metadata:       job.Metadata,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func viewsOf(jobsList []domain.Job) []jobView {
	views := make([]jobView, 0, len(jobsList))
	for _, job := range jobsList {
		views = append(views, viewOf(job))
	}
	return views
}

// ListImages returns the caller's completed jobs, newest first, optionally
// narrowed by kind.
func (a *App) ListImages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	kind := domain.JobKind(r.URL.Query().Get("kind"))
	items, err := a.Repo.ListByOwner(r.Context(), a.currentUserID(r), domain.JobQuery{Kind: kind, Limit: limit})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": viewsOf(items)})
}

// SearchImages matches the query term against prompts of the caller's
// completed jobs, case-insensitively.
func (a *App) SearchImages(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "q is required")
		return
	}
	items, err := a.Repo.SearchByPrompt(r.Context(), a.currentUserID(r), term)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": viewsOf(items)})
}

// GetImage returns a single job by id, including failed ones so the client
// can surface the error message.
func (a *App) GetImage(w http.ResponseWriter, r *http.Request) {
	job, err := a.Repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(*job))
}

// ImageStatus answers a lifecycle poll, preferring the cache over the
// database.
func (a *App) ImageStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if status, ok, err := a.Status.GetStatus(r.Context(), jobID); err == nil && ok {
		a.json(w, http.StatusOK, statusView{ID: jobID, Status: string(status), Done: status.Terminal()})
		return
	}
	job, err := a.Repo.GetByID(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, statusView{ID: job.ID, Status: string(job.Status), Done: job.Status.Terminal()})
}

// DeleteImage hard-deletes a job owned by the caller.
func (a *App) DeleteImage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := a.Repo.DeleteByID(r.Context(), jobID, a.currentUserID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Status.Invalidate(r.Context(), jobID); err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("handlers: status cache invalidate failed")
	}
	a.json(w, http.StatusOK, map[string]bool{"success": true})
}

// RecentImages returns the latest completed jobs across all users, for the
// explore surface.
func (a *App) RecentImages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := a.Repo.ListRecent(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": viewsOf(items)})
}

// ImageStats rolls up the caller's library by kind and status.
func (a *App) ImageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Repo.StatsByOwner(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":      stats.Total,
		"generated":  stats.Generated,
		"edited":     stats.Edited,
		"upscaled":   stats.Upscaled,
		"bg_removed": stats.BGRemoved,
		"restored":   stats.Restored,
		"mixed":      stats.Mixed,
		"completed":  stats.Completed,
		"processing": stats.Processing,
		"failed":     stats.Failed,
	})
}
