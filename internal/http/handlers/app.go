package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/blobstore"
	"server/internal/cache"
	"server/internal/domain"
	"server/internal/inference"
	"server/internal/infra"
	"server/internal/jobs"
	"server/internal/middleware"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Jobs   *jobs.Service
	Repo   domain.JobRepository
	Trends domain.TrendingRepository
	Users  domain.UserRepository
	Status *cache.JobStatusCache
	Logger infra.Logger
}

// NewApp constructs the handler container. The status cache may be nil.
func NewApp(jobsSvc *jobs.Service, repo domain.JobRepository, trends domain.TrendingRepository, users domain.UserRepository, status *cache.JobStatusCache, logger infra.Logger) *App {
	return &App{Jobs: jobsSvc, Repo: repo, Trends: trends, Users: users, Status: status, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// noCreditsMessages localizes the one failure a mobile user routinely sees.
var noCreditsMessages = map[string]string{
	"en": "insufficient credits",
	"es": "créditos insuficientes",
	"pt": "créditos insuficientes",
	"ja": "クレジットが不足しています",
	"ko": "크레딧이 부족합니다",
}

// fail maps domain and gateway errors onto HTTP status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var providerErr *inference.ProviderError
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusForbidden, "forbidden", "not your resource")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrNoCredits):
		msg, ok := noCreditsMessages[middleware.LocaleFromContext(r.Context())]
		if !ok {
			msg = noCreditsMessages["en"]
		}
		a.error(w, http.StatusForbidden, "no_credits", msg)
	case errors.Is(err, blobstore.ErrDecode):
		a.error(w, http.StatusBadRequest, "bad_request", "malformed image payload")
	case errors.As(err, &providerErr),
		errors.Is(err, inference.ErrTimeout),
		errors.Is(err, inference.ErrInvalidOutput),
		errors.Is(err, inference.ErrInvalidInput),
		errors.Is(err, blobstore.ErrFetch),
		errors.Is(err, blobstore.ErrStore):
		a.error(w, http.StatusBadGateway, "upstream_failed", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
