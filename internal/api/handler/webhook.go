package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/internal/webhook"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// ResultApplier applies a decoded outcome to a job.
type ResultApplier interface {
	Apply(ctx context.Context, id uuid.UUID, result models.ProbeResult, source string) (bool, error)
}

// PayloadValidator checks a raw body against the provider's payload schema.
type PayloadValidator interface {
	Validate(provider string, body []byte) error
}

// DeliveryTracker suppresses repeated deliveries of the same outcome.
type DeliveryTracker interface {
	MarkWebhookSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetWebhook(ctx context.Context, key string) error
}

type WebhookDeps struct {
	Applier   ResultApplier
	Validator PayloadValidator
	// Deliveries may be nil, in which case every delivery reaches the applier.
	Deliveries DeliveryTracker
	DedupeTTL  time.Duration
}

// NewWebhookHandler returns an http.HandlerFunc for POST /webhooks/{provider}.
// Caller mistakes get a 4xx. Everything past decoding answers 200 so providers
// do not retry business mismatches; the reconciler covers anything missed.
func NewWebhookHandler(deps WebhookDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		if !slices.Contains(webhook.Providers(), provider) {
			response.Error(w, http.StatusBadRequest, "UNKNOWN_PROVIDER",
				"Unknown provider", map[string]any{"provider": provider, "allowed": webhook.Providers()})
			return
		}

		rawID := r.URL.Query().Get("job_id")
		if rawID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id is required", nil)
			return
		}
		jobID, err := uuid.Parse(rawID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id must be a valid UUID", nil)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Could not read request body", nil)
			return
		}

		log := slog.With("job_id", jobID, "provider", provider)

		if deps.Validator != nil {
			if err := deps.Validator.Validate(provider, body); err != nil {
				log.Warn("webhook payload rejected", "error", err)
				response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
				return
			}
		}

		payload, err := webhook.Normalize(provider, body)
		if err != nil {
			log.Warn("webhook payload rejected", "error", err)
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
			return
		}
		if payload.ExternalRef != "" {
			log = log.With("external_reference_id", payload.ExternalRef)
		}

		if payload.UnknownStatus() {
			log.Warn("unrecognized webhook status, treating as pending", "status", payload.Status)
		}
		if payload.MissingOutput() {
			log.Warn("webhook reports success without output url, leaving job to the probe", "status", payload.Status)
		}
		if payload.Result.IsPending() {
			log.Info("webhook reports job still pending", "status", payload.Status)
			response.Ack(w)
			return
		}

		key := webhook.DedupeKey(jobID, payload.Result)
		if deps.Deliveries != nil {
			first, err := deps.Deliveries.MarkWebhookSeen(r.Context(), key, deps.DedupeTTL)
			switch {
			case err != nil:
				log.Warn("webhook dedupe unavailable", "error", err)
			case !first:
				log.Info("duplicate webhook suppressed", "result", payload.Result.Kind)
				response.Ack(w)
				return
			}
		}

		applied, err := deps.Applier.Apply(r.Context(), jobID, payload.Result, models.ResolvedByWebhook)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				log.Warn("webhook for unknown job")
				response.AckError(w, "job not found")
			case errors.Is(err, store.ErrConflict):
				response.AckError(w, "job already resolved with a different outcome")
			case errors.Is(err, store.ErrInvalidState):
				log.Warn("webhook rejected", "error", err)
				response.AckError(w, err.Error())
			default:
				log.Error("applying webhook", "error", err)
				if deps.Deliveries != nil {
					if ferr := deps.Deliveries.ForgetWebhook(context.WithoutCancel(r.Context()), key); ferr != nil {
						log.Warn("releasing webhook dedupe key", "error", ferr)
					}
				}
				response.AckError(w, "internal error")
			}
			return
		}

		log.Info("webhook processed", "result", payload.Result.Kind, "applied", applied)
		response.Ack(w)
	}
}
