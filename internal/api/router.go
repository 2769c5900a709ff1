package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.AdminAuth
	RateLimit *mw.RateLimit
	Signature *mw.WebhookSignature

	HealthHandler    http.HandlerFunc
	WebhookHandler   http.HandlerFunc
	ReconcileHandler http.HandlerFunc
	SubmitJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	JobStatusHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Provider callbacks
	r.Group(func(r chi.Router) {
		if deps.Signature != nil {
			r.Use(deps.Signature.Verify)
		}
		r.Post("/webhooks/{provider}", orNotImplemented(deps.WebhookHandler))
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/internal/reconcile", orNotImplemented(deps.ReconcileHandler))
		r.Post("/internal/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/internal/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/internal/jobs/{jobID}/status", orNotImplemented(deps.JobStatusHandler))
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
