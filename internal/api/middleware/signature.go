package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/kiranshivaraju/clipforge/internal/webhook"
)

const defaultMaxBodyBytes = 1 << 20

// WebhookSignature verifies provider callbacks against per-provider HMAC
// secrets. Providers without a secret pass through unsigned. The body is
// buffered and handed on intact.
type WebhookSignature struct {
	secrets      map[string]string
	maxBodyBytes int64
	now          func() time.Time
}

func NewWebhookSignature(secrets map[string]string, maxBodyBytes int64) *WebhookSignature {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &WebhookSignature{secrets: secrets, maxBodyBytes: maxBodyBytes, now: time.Now}
}

func (s *WebhookSignature) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge,
					"PAYLOAD_TOO_LARGE", "Webhook body exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Could not read request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		provider := chi.URLParam(r, "provider")
		secret := s.secrets[provider]
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		err = webhook.VerifySignature(secret,
			r.Header.Get(webhook.TimestampHeader),
			r.Header.Get(webhook.SignatureHeader),
			body, s.now())
		if err != nil {
			slog.Warn("webhook signature rejected",
				"provider", provider,
				"job_id", r.URL.Query().Get("job_id"),
				"error", err,
			)
			response.Error(w, http.StatusUnauthorized,
				"INVALID_SIGNATURE", "Webhook signature verification failed", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
