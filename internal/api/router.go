package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/phototune/internal/api/middleware"
	"github.com/kiranshivaraju/phototune/internal/api/handler"
	"github.com/kiranshivaraju/phototune/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	WebhookHandler   http.HandlerFunc
	TrainHandler     http.HandlerFunc
	ListTunesHandler http.HandlerFunc
	GetTuneHandler   http.HandlerFunc
	TuneStatus       http.HandlerFunc
	CreatePrompt     http.HandlerFunc
	ListPacks        http.HandlerFunc
	CreditsHandler   http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	// The provider authenticates with the webhook secret, not a user credential.
	r.Post("/api/v1/train/webhook", orNotImplemented(deps.WebhookHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.With(deps.Auth.RequireScope(handler.ScopeTrain), deps.RateLimit.Limit).
			Post("/api/v1/train", orNotImplemented(deps.TrainHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(handler.ScopeRead))

			r.Get("/api/v1/tunes", orNotImplemented(deps.ListTunesHandler))
			r.Get("/api/v1/tunes/{jobID}", orNotImplemented(deps.GetTuneHandler))
			r.Get("/api/v1/tunes/{jobID}/status", orNotImplemented(deps.TuneStatus))
			r.Get("/api/v1/packs", orNotImplemented(deps.ListPacks))
			r.Get("/api/v1/credits", orNotImplemented(deps.CreditsHandler))
		})

		r.With(deps.Auth.RequireScope(handler.ScopeTrain)).
			Post("/api/v1/tunes/{jobID}/prompts", orNotImplemented(deps.CreatePrompt))

		r.With(deps.Auth.RequireSession).
			Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
