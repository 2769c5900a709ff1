// Package submit starts outsourced operations: it records the job, hands the
// work to a provider with a callback URL naming the job, and keeps the
// provider's reference so the reconciler can find the artifact later.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

var ErrInvalidRequest = errors.New("invalid submission request")

// Request describes one operation to outsource.
type Request struct {
	Kind models.OperationKind
	// Provider names the provider to use. Empty picks the one that handles Kind.
	Provider     string
	Params       provider.Params
	DependentRef models.DependentRef
}

// Providers resolves a provider by name or by operation kind.
type Providers interface {
	Get(name string) (provider.Provider, error)
	ForKind(kind models.OperationKind) (provider.Provider, error)
}

// FailureRecorder moves a job to failed and updates its dependent record.
type FailureRecorder interface {
	ApplyFailure(ctx context.Context, id uuid.UUID, detail, source string) (bool, error)
}

// Service submits operations to providers.
type Service struct {
	store         store.JobStore
	providers     Providers
	failures      FailureRecorder
	cache         cache.Cache
	publicBaseURL string
	timeout       time.Duration
}

// NewService creates a Service. publicBaseURL is the externally reachable
// root that providers call back on.
func NewService(st store.JobStore, providers Providers, failures FailureRecorder, ca cache.Cache, publicBaseURL string, timeout time.Duration) *Service {
	return &Service{
		store:         st,
		providers:     providers,
		failures:      failures,
		cache:         ca,
		publicBaseURL: publicBaseURL,
		timeout:       timeout,
	}
}

// CallbackURL builds the webhook URL a provider is told to call for a job.
func CallbackURL(publicBaseURL, providerName string, jobID uuid.UUID) string {
	return fmt.Sprintf("%s/webhooks/%s?job_id=%s", publicBaseURL, url.PathEscape(providerName), jobID)
}

// Submit creates a pending job and submits it. On success the job is
// processing with the provider's reference attached. If the provider refuses
// the work the job is failed and returned together with the error.
func (s *Service) Submit(ctx context.Context, req Request) (*models.Job, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRequest, req.Kind)
	}

	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, req.Kind, p.Name(), req.DependentRef)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.cacheStatus(ctx, job.ID, models.JobStatusPending)

	log := slog.With("job_id", job.ID, "operation_kind", job.OperationKind, "provider", job.Provider)

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ref, err := p.Submit(submitCtx, req.Kind, req.Params, CallbackURL(s.publicBaseURL, p.Name(), job.ID))
	if err != nil {
		log.Error("submission failed", "error", err)
		if _, failErr := s.failures.ApplyFailure(ctx, job.ID, fmt.Sprintf("submission failed: %v", err), models.ResolvedBySubmit); failErr != nil {
			log.Error("recording submission failure", "error", failErr)
		}
		return s.reload(ctx, job), fmt.Errorf("submitting to %s: %w", p.Name(), err)
	}

	if err := s.store.AttachExternalReference(ctx, job.ID, ref); err != nil {
		// The callback can beat us here and finish the job first.
		if !errors.Is(err, store.ErrInvalidState) {
			return s.reload(ctx, job), fmt.Errorf("attaching reference %q: %w", ref, err)
		}
		log.Warn("reference not attached", "external_reference_id", ref, "error", err)
	} else {
		s.cacheStatus(ctx, job.ID, models.JobStatusProcessing)
	}

	log.Info("job submitted", "external_reference_id", ref)
	return s.reload(ctx, job), nil
}

func (s *Service) resolve(req Request) (provider.Provider, error) {
	if req.Provider == "" {
		return s.providers.ForKind(req.Kind)
	}
	p, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !p.Supports(req.Kind) {
		return nil, fmt.Errorf("%w: %s cannot %s", provider.ErrUnsupportedKind, p.Name(), req.Kind)
	}
	return p, nil
}

// reload returns the job's current state, falling back to the given snapshot.
func (s *Service) reload(ctx context.Context, job *models.Job) *models.Job {
	fresh, err := s.store.Get(ctx, job.ID)
	if err != nil {
		return job
	}
	return fresh
}

func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) {
	if s.cache == nil {
		return
	}
	_ = s.cache.SetJobStatus(ctx, id, status, 30*time.Minute)
}
