// Package reconcile moves jobs to their terminal state, from provider callbacks
// or from periodic probing of jobs whose callback never came.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// Propagator writes a terminal outcome into the job's dependent record.
type Propagator interface {
	Propagate(ctx context.Context, job *models.Job) error
}

// Applier is the only writer of terminal job state. Applying the same outcome
// twice has the effect of applying it once.
type Applier struct {
	store      store.JobStore
	propagator Propagator
	cache      cache.Cache
}

// NewApplier creates an Applier. cache may be nil.
func NewApplier(st store.JobStore, propagator Propagator, ca cache.Cache) *Applier {
	return &Applier{store: st, propagator: propagator, cache: ca}
}

// ApplyCompletion records that the job produced location.
func (a *Applier) ApplyCompletion(ctx context.Context, id uuid.UUID, location, source string) (bool, error) {
	return a.Apply(ctx, id, models.Completed(location), source)
}

// ApplyFailure records that the job failed with detail.
func (a *Applier) ApplyFailure(ctx context.Context, id uuid.UUID, detail, source string) (bool, error) {
	return a.Apply(ctx, id, models.Failed(detail), source)
}

// Apply moves the job to the outcome in result. It reports whether this call
// made the transition. A still-pending result is a no-op. A replay of the
// recorded outcome returns (false, nil); a different outcome returns an error
// matching store.ErrConflict and leaves the job untouched.
func (a *Applier) Apply(ctx context.Context, id uuid.UUID, result models.ProbeResult, source string) (bool, error) {
	applied, _, err := a.apply(ctx, id, result, source)
	return applied, err
}

// apply additionally reports whether the dependent record was updated.
func (a *Applier) apply(ctx context.Context, id uuid.UUID, result models.ProbeResult, source string) (bool, bool, error) {
	if result.IsPending() {
		return false, false, nil
	}

	job, err := a.store.Get(ctx, id)
	if err != nil {
		return false, false, err
	}

	if job.Status.IsTerminal() {
		if recorded := job.Outcome(); !recorded.Equal(result) {
			conflict := &store.ConflictError{JobID: id, Recorded: recorded, Attempted: result}
			a.logConflict(job, conflict, source)
			return false, false, conflict
		}
		// Zero attempts means the writer that resolved the job has not finished
		// its own update yet; only a recorded failure is retried here.
		if job.Propagated || job.PropagationAttempts == 0 {
			return false, false, nil
		}
		return false, a.propagate(ctx, job) == nil, nil
	}

	var applied bool
	switch result.Kind {
	case models.ResultCompleted:
		applied, err = a.store.MarkCompleted(ctx, id, result.OutputLocation, store.WithResolvedBy(source))
	case models.ResultFailed:
		applied, err = a.store.MarkFailed(ctx, id, result.ErrorDetail, store.WithResolvedBy(source))
	default:
		return false, false, fmt.Errorf("apply job %s: unknown result kind %q", id, result.Kind)
	}
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			a.logConflict(job, conflict, source)
		}
		return false, false, err
	}
	if !applied {
		// A concurrent writer recorded the same outcome first and owns the
		// dependent record update.
		return false, false, nil
	}

	job, err = a.store.Get(ctx, id)
	if err != nil {
		return true, false, fmt.Errorf("reload job %s: %w", id, err)
	}

	slog.Info("job resolved",
		"job_id", id,
		"operation_kind", job.OperationKind,
		"provider", job.Provider,
		"status", job.Status,
		"source", source,
	)
	a.refreshCache(ctx, job)

	return true, a.propagate(ctx, job) == nil, nil
}

// RetryPropagation re-attempts the dependent record update for a terminal job.
func (a *Applier) RetryPropagation(ctx context.Context, job *models.Job) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", store.ErrInvalidState, job.ID, job.Status)
	}
	if job.Propagated {
		return nil
	}
	return a.propagate(ctx, job)
}

// propagate never rolls back the job's own transition; a failure is recorded
// for the next reconcile tick to retry.
func (a *Applier) propagate(ctx context.Context, job *models.Job) error {
	if err := a.propagator.Propagate(ctx, job); err != nil {
		slog.Warn("dependent record update failed",
			"job_id", job.ID,
			"table", job.DependentRef.Table,
			"record_id", job.DependentRef.RecordID,
			"attempt", job.PropagationAttempts+1,
			"error", err,
		)
		if recErr := a.store.RecordPropagationFailure(ctx, job.ID, err.Error()); recErr != nil {
			slog.Error("recording propagation failure", "job_id", job.ID, "error", recErr)
		}
		return err
	}

	if err := a.store.MarkPropagated(ctx, job.ID); err != nil {
		slog.Error("marking job propagated", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

func (a *Applier) refreshCache(ctx context.Context, job *models.Job) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SetJobStatus(ctx, job.ID, job.Status, statusCacheTTL); err != nil {
		slog.Debug("job status cache refresh failed", "job_id", job.ID, "error", err)
	}
}

func (a *Applier) logConflict(job *models.Job, conflict *store.ConflictError, source string) {
	slog.Error("conflicting terminal outcome",
		"job_id", job.ID,
		"operation_kind", job.OperationKind,
		"provider", job.Provider,
		"recorded", conflict.Recorded,
		"attempted", conflict.Attempted,
		"source", source,
		"needs_review", true,
	)
}
