package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultTrendingLimit = 20

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

type trendingView struct {
	Job    jobView `json:"job"`
	Score  int     `json:"score"`
	Views  int     `json:"views"`
	Likes  int     `json:"likes"`
	Shares int     `json:"shares"`
}

// Trending returns the day's highest-scoring images. The day defaults to
// today (UTC) and accepts a "day" query param in YYYY-MM-DD form.
func (a *App) Trending(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = today()
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "day must be YYYY-MM-DD")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultTrendingLimit
	}
	items, err := a.Trends.ListTop(r.Context(), day, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]trendingView, 0, len(items))
	for _, item := range items {
		views = append(views, trendingView{
			Job:    viewOf(item.Job),
			Score:  item.Score,
			Views:  item.Views,
			Likes:  item.Likes,
			Shares: item.Shares,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"day": day, "items": views})
}

// RecordView bumps today's view counter for an image.
func (a *App) RecordView(w http.ResponseWriter, r *http.Request) {
	a.bump(w, r, 1, 0, 0)
}

// RecordLike bumps today's like counter for an image.
func (a *App) RecordLike(w http.ResponseWriter, r *http.Request) {
	a.bump(w, r, 0, 1, 0)
}

// RecordShare bumps today's share counter for an image.
func (a *App) RecordShare(w http.ResponseWriter, r *http.Request) {
	a.bump(w, r, 0, 0, 1)
}

func (a *App) bump(w http.ResponseWriter, r *http.Request, views, likes, shares int) {
	jobID := chi.URLParam(r, "id")
	// The job must exist; FK enforcement alone would surface a 500.
	if _, err := a.Repo.GetByID(r.Context(), jobID); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Trends.Bump(r.Context(), jobID, today(), views, likes, shares); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"success": true})
}
