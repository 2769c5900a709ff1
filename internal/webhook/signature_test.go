package webhook_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/webhook"
	"github.com/kiranshivaraju/clipforge/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"abc123","status":"done"}`)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := strconv.FormatInt(now.Unix(), 10)

	tests := []struct {
		name      string
		timestamp string
		signature string
		valid     bool
	}{
		{"bare hex", "", webhook.Sign("s3cret", "", body), true},
		{"prefixed", "", "sha256=" + webhook.Sign("s3cret", "", body), true},
		{"with timestamp", ts, webhook.Sign("s3cret", ts, body), true},
		{"rfc3339 timestamp", now.Format(time.RFC3339), webhook.Sign("s3cret", now.Format(time.RFC3339), body), true},
		{"wrong secret", "", webhook.Sign("other", "", body), false},
		{"timestamp not signed", ts, webhook.Sign("s3cret", "", body), false},
		{"stale timestamp", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10), webhook.Sign("s3cret", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10), body), false},
		{"garbage timestamp", "yesterday", webhook.Sign("s3cret", "yesterday", body), false},
		{"missing", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := webhook.VerifySignature("s3cret", tt.timestamp, tt.signature, body, now)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
			}
		})
	}
}

func TestDedupeKey(t *testing.T) {
	id := uuid.New()
	a := webhook.DedupeKey(id, models.Completed("https://cdn/a.mp4"))

	assert.Equal(t, a, webhook.DedupeKey(id, models.Completed("https://cdn/a.mp4")))
	assert.NotEqual(t, a, webhook.DedupeKey(id, models.Failed("https://cdn/a.mp4")))
	assert.NotEqual(t, a, webhook.DedupeKey(uuid.New(), models.Completed("https://cdn/a.mp4")))
}
