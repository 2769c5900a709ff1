package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state transition")
	// ErrConflict means two sources disagree about a job's terminal outcome.
	// The first recorded outcome is kept.
	ErrConflict = errors.New("conflicting terminal outcome")
)

// JobStore is the durable source of truth for jobs. All job state goes through here.
// Implementations must make MarkCompleted and MarkFailed atomic per job.
type JobStore interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, kind models.OperationKind, provider string, ref models.DependentRef) (*models.Job, error)
	AttachExternalReference(ctx context.Context, id uuid.UUID, externalRef string) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindStuck(ctx context.Context, filter StuckFilter) ([]*models.Job, error)
	// MarkCompleted and MarkFailed report applied=false when the job already
	// holds the same terminal outcome, and ErrConflict when it holds another.
	MarkCompleted(ctx context.Context, id uuid.UUID, location string, opts ...TransitionOption) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, detail string, opts ...TransitionOption) (bool, error)
	TouchChecked(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkPropagated(ctx context.Context, id uuid.UUID) error
	RecordPropagationFailure(ctx context.Context, id uuid.UUID, reason string) error
	// FindUnpropagated lists terminal jobs whose dependent record update has
	// not succeeded, skipping jobs with maxAttempts or more attempts. A
	// maxAttempts of zero or less disables the cap.
	FindUnpropagated(ctx context.Context, maxAttempts, limit int) ([]*models.Job, error)
	ArchiveOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// StuckFilter selects non-terminal jobs created before now-OlderThan.
type StuckFilter struct {
	OlderThan time.Duration
	Statuses  []models.JobStatus
	Limit     int
}

func (f StuckFilter) statuses() []models.JobStatus {
	if len(f.Statuses) == 0 {
		return models.NonTerminalStatuses
	}
	out := make([]models.JobStatus, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

type transitionParams struct {
	ResolvedBy *string
}

type TransitionOption func(*transitionParams)

// WithResolvedBy records which path (webhook, reconcile, submit) resolved the job.
func WithResolvedBy(source string) TransitionOption {
	return func(p *transitionParams) {
		p.ResolvedBy = &source
	}
}

func applyTransitionOptions(opts []TransitionOption) *transitionParams {
	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

const defaultBatchLimit = 500

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > defaultBatchLimit {
		return defaultBatchLimit
	}
	return limit
}

// checkTerminal decides the outcome of a mark call that found the job already
// terminal: a same-outcome replay is a no-op, anything else is a conflict.
func checkTerminal(job *models.Job, want models.ProbeResult) error {
	got := job.Outcome()
	if got.Equal(want) {
		return nil
	}
	return &ConflictError{JobID: job.ID, Recorded: got, Attempted: want}
}

// ConflictError carries both outcomes for the review log. It matches ErrConflict.
type ConflictError struct {
	JobID     uuid.UUID
	Recorded  models.ProbeResult
	Attempted models.ProbeResult
}

func (e *ConflictError) Error() string {
	return "job " + e.JobID.String() + ": " + ErrConflict.Error() +
		" (recorded " + describe(e.Recorded) + ", attempted " + describe(e.Attempted) + ")"
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func describe(r models.ProbeResult) string {
	switch r.Kind {
	case models.ResultCompleted:
		return "completed " + r.OutputLocation
	case models.ResultFailed:
		return "failed: " + r.ErrorDetail
	default:
		return string(r.Kind)
	}
}
