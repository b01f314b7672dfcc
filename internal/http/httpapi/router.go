package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// Options carries the cross-cutting pieces the router wires in front of the
// handlers.
type Options struct {
	Logger          infra.Logger
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
}

// NewRouter assembles the full route tree. Everything under /v1 except the
// health probe requires a caller identity.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Route("/images", func(r chi.Router) {
			r.Post("/upload", app.UploadSource)
			r.Post("/generate", app.Generate)
			r.Post("/mix", app.Mix)
			r.Post("/remove-background", app.RemoveBackground)
			r.Post("/upscale", app.Upscale)
			r.Post("/restore", app.Restore)
			r.Post("/edit", app.Edit)

			r.Get("/", app.ListImages)
			r.Get("/search", app.SearchImages)
			r.Get("/recent", app.RecentImages)
			r.Get("/stats", app.ImageStats)
			r.Get("/{id}", app.GetImage)
			r.Get("/{id}/status", app.ImageStatus)
			r.Delete("/{id}", app.DeleteImage)

			r.Post("/{id}/view", app.RecordView)
			r.Post("/{id}/like", app.RecordLike)
			r.Post("/{id}/share", app.RecordShare)
		})

		r.Get("/trending", app.Trending)

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/credits", app.Credits)
			r.Post("/credits/init", app.InitCredits)
		})
	})

	return r
}
