// Package provider defines the submission interface for the external services
// that do the actual media work, and the HTTP plumbing they share.
package provider

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/clipforge/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrSubmissionRejected  = errors.New("provider rejected submission")
	ErrUnsupportedKind     = errors.New("operation kind not supported by provider")
	ErrInvalidResponse     = errors.New("provider returned invalid response")
)

// Params carries the operation-specific inputs (text, voice, clip URLs, prompt).
type Params map[string]any

// Provider submits work to an external service. The service later calls
// callbackURL with the outcome; the returned reference identifies the work
// on the provider side and names its output artifact.
type Provider interface {
	Name() string
	Supports(kind models.OperationKind) bool
	Submit(ctx context.Context, kind models.OperationKind, params Params, callbackURL string) (string, error)
}

// String returns the string parameter key, or "" when absent.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}
