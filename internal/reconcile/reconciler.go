package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ErrTickInProgress is returned when another tick holds the reconcile lock.
var ErrTickInProgress = errors.New("reconcile tick already in progress")

const lockName = "reconcile"

// Prober infers a job's outcome from its artifact.
type Prober interface {
	Probe(ctx context.Context, job *models.Job) (models.ProbeResult, error)
}

// Options tune a Reconciler. Zero values fall back to the defaults.
type Options struct {
	StuckThreshold time.Duration
	Concurrency    int
	BatchSize      int
	// TickTimeout bounds a whole tick and the distributed lock lease.
	TickTimeout time.Duration
	// ArchiveHorizon archives propagated terminal jobs older than it. Zero disables.
	ArchiveHorizon time.Duration
	// MaxPropagationAttempts caps dependent record retries per job. Zero retries forever.
	MaxPropagationAttempts int
}

func (o Options) withDefaults() Options {
	if o.StuckThreshold <= 0 {
		o.StuckThreshold = 5 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.TickTimeout <= 0 {
		o.TickTimeout = 90 * time.Second
	}
	return o
}

// Reconciler resolves jobs whose completion callback never arrived.
type Reconciler struct {
	store   store.JobStore
	prober  Prober
	applier *Applier
	cache   cache.Cache
	opts    Options
	now     func() time.Time

	mu sync.Mutex
}

// NewReconciler creates a Reconciler. cache may be nil, in which case ticks are
// single-flight within this process only.
func NewReconciler(st store.JobStore, prober Prober, applier *Applier, ca cache.Cache, opts Options) *Reconciler {
	return &Reconciler{
		store:   st,
		prober:  prober,
		applier: applier,
		cache:   ca,
		opts:    opts.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for last_checked_at.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Tick runs one reconciliation pass: probe every stuck job, apply what the
// probes found, then retry dependent record updates that failed earlier.
// Per-job failures are counted in the summary and never abort the tick.
func (r *Reconciler) Tick(ctx context.Context) (models.TickSummary, error) {
	if !r.mu.TryLock() {
		return models.TickSummary{}, ErrTickInProgress
	}
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.opts.TickTimeout)
	defer cancel()

	if r.cache != nil {
		token, ok, err := r.cache.AcquireLock(ctx, lockName, r.opts.TickTimeout)
		switch {
		case err != nil:
			// Store transitions are compare-and-set, so an overlapping tick on
			// another replica is wasteful but safe.
			slog.Warn("reconcile lock unavailable, continuing unlocked", "error", err)
		case !ok:
			return models.TickSummary{}, ErrTickInProgress
		default:
			defer func() {
				if err := r.cache.ReleaseLock(context.Background(), lockName, token); err != nil {
					slog.Warn("releasing reconcile lock", "error", err)
				}
			}()
		}
	}

	start := time.Now()
	jobs, err := r.store.FindStuck(ctx, store.StuckFilter{
		OlderThan: r.opts.StuckThreshold,
		Limit:     r.opts.BatchSize,
	})
	if err != nil {
		return models.TickSummary{}, fmt.Errorf("finding stuck jobs: %w", err)
	}

	var (
		summary models.TickSummary
		mu      sync.Mutex
	)
	summary.Checked = len(jobs)
	count := func(f func(s *models.TickSummary)) {
		mu.Lock()
		f(&summary)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			r.reconcileJob(ctx, job, count)
			return nil
		})
	}
	_ = g.Wait()

	r.retryPropagation(ctx, count)
	r.archive(ctx, count)

	slog.Info("reconcile tick complete",
		"checked", summary.Checked,
		"resolved", summary.Resolved,
		"failed", summary.Failed,
		"propagated", summary.Propagated,
		"errors", summary.Errors,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (r *Reconciler) reconcileJob(ctx context.Context, job *models.Job, count func(func(*models.TickSummary))) {
	log := slog.With("job_id", job.ID, "operation_kind", job.OperationKind, "provider", job.Provider)

	result, err := r.prober.Probe(ctx, job)
	if touchErr := r.store.TouchChecked(ctx, job.ID, r.now()); touchErr != nil {
		log.Warn("updating last_checked_at", "error", touchErr)
	}
	if err != nil {
		log.Warn("probe inconclusive", "error", err)
		count(func(s *models.TickSummary) { s.Errors++ })
	}
	if result.IsPending() {
		return
	}

	applied, propagated, err := r.applier.apply(ctx, job.ID, result, models.ResolvedByReconcile)
	if err != nil {
		log.Error("applying probe result", "result", result.Kind, "error", err)
		count(func(s *models.TickSummary) { s.Errors++ })
		return
	}

	count(func(s *models.TickSummary) {
		if applied {
			switch result.Kind {
			case models.ResultCompleted:
				s.Resolved++
			case models.ResultFailed:
				s.Failed++
			}
		}
		if propagated {
			s.Propagated++
		}
	})
}

func (r *Reconciler) retryPropagation(ctx context.Context, count func(func(*models.TickSummary))) {
	maxAttempts := r.opts.MaxPropagationAttempts
	jobs, err := r.store.FindUnpropagated(ctx, maxAttempts, r.opts.BatchSize)
	if err != nil {
		slog.Error("finding unpropagated jobs", "error", err)
		count(func(s *models.TickSummary) { s.Errors++ })
		return
	}
	for _, job := range jobs {
		if err := r.applier.RetryPropagation(ctx, job); err != nil {
			count(func(s *models.TickSummary) { s.Errors++ })
			if maxAttempts > 0 && job.PropagationAttempts+1 >= maxAttempts {
				slog.Error("giving up on dependent record update",
					"job_id", job.ID,
					"table", job.DependentRef.Table,
					"record_id", job.DependentRef.RecordID,
					"attempts", job.PropagationAttempts+1,
					"error", err,
					"needs_review", true,
				)
			}
			continue
		}
		count(func(s *models.TickSummary) { s.Propagated++ })
	}
}

func (r *Reconciler) archive(ctx context.Context, count func(func(*models.TickSummary))) {
	if r.opts.ArchiveHorizon <= 0 {
		return
	}
	n, err := r.store.ArchiveOlderThan(ctx, r.opts.ArchiveHorizon)
	if err != nil {
		slog.Error("archiving jobs", "error", err)
		count(func(s *models.TickSummary) { s.Errors++ })
		return
	}
	if n > 0 {
		slog.Info("archived jobs", "count", n)
	}
}

// Run ticks on every scheduler beat until ctx is done.
func (r *Reconciler) Run(ctx context.Context, scheduler Scheduler, interval time.Duration) {
	scheduler.Schedule(ctx, interval, func(ctx context.Context) {
		if _, err := r.Tick(ctx); err != nil {
			if errors.Is(err, ErrTickInProgress) {
				slog.Debug("skipping reconcile tick", "reason", err)
				return
			}
			slog.Error("reconcile tick failed", "error", err)
		}
	})
}
