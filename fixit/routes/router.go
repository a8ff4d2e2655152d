// fixit/routes/router.go
package routes

import (
	"fixit/fixit/controllers"
	"fixit/fixit/middlewares"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the handlers and knobs the HTTP surface is built from.
type Deps struct {
	Chat    *controllers.ChatController
	Usage   *controllers.UsageController
	Health  *controllers.HealthController
	Limiter *middlewares.RateLimiter

	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter mounts the API under /api. The burst limiter only guards chat.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLog)
	r.Use(middleware.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	var limit func(http.Handler) http.Handler
	if d.Limiter != nil {
		limit = d.Limiter.Middleware
	}

	r.Route("/api", func(api chi.Router) {
		api.Mount("/chat", ChatRoutes(d.Chat, limit))
		api.Mount("/usage", UsageRoutes(d.Usage))
		api.Mount("/health", HealthRoutes(d.Health))
	})
	return r
}
