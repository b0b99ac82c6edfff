package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"weltverbinder/internal/http/handlers"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/middleware"
)

type Options struct {
	Logger          infra.Logger
	Metrics         *infra.Metrics
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS,
	)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// The function endpoints spend upstream quota, so they are rate limited.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/v1/generate-video", app.GenerateVideo)
		r.Post("/v1/poll-image", app.PollImage)
	})

	r.Route("/v1/classes", func(r chi.Router) {
		r.Get("/", app.ListClasses)
		r.Delete("/{name}", app.DeleteClass)
		r.Get("/{name}/state", app.ClassState)
		r.Put("/{name}/state", app.PutClassState)
		r.Get("/{name}/report", app.ClassReport)
	})

	r.Route("/v1/boards", func(r chi.Router) {
		r.Post("/", app.CreateBoard)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", app.GetBoard)
			r.Delete("/", app.DeleteBoard)
			r.Post("/close", app.CloseBoard)
			r.Post("/snapshots", app.SaveBoard)
			r.Get("/posts", app.ListPosts)
			r.Post("/posts", app.AddPost)
			r.Delete("/posts", app.ClearPosts)
			r.Delete("/posts/{key}", app.DeletePost)
			r.Post("/posts/{key}/likes", app.LikePost)
		})
	})

	r.Get("/v1/saved-boards", app.ListSavedBoards)
	r.Delete("/v1/saved-boards/{key}", app.DeleteSavedBoard)

	return r
}
