package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/probe"
	"github.com/kiranshivaraju/clipforge/internal/reconcile"
	"github.com/kiranshivaraju/clipforge/internal/records"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePropagator struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
	// delay holds each update open, widening the window for racing writers.
	delay time.Duration
}

func (f *fakePropagator) Propagate(_ context.Context, job *models.Job) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, job.ID)
	return f.err
}

func (f *fakePropagator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePropagator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// artifacts is a probe.Checker backed by a set of existing locations.
type artifacts struct {
	mu       sync.Mutex
	existing map[string]bool
	err      error
}

func (a *artifacts) Exists(_ context.Context, loc string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return false, a.err
	}
	return a.existing[loc], nil
}

func (a *artifacts) put(loc string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.existing[loc] = true
}

// blockingProber holds every probe until release is closed.
type blockingProber struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingProber) Probe(ctx context.Context, _ *models.Job) (models.ProbeResult, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return models.StillPending(), nil
}

const base = "https://media.example.com/outputs"

type harness struct {
	clock      *clock
	store      *store.MemoryStore
	cache      *cache.MemoryCache
	propagator *fakePropagator
	artifacts  *artifacts
	applier    *reconcile.Applier
	reconciler *reconcile.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		clock:      c,
		store:      store.NewMemoryStore().WithClock(c.Now),
		cache:      cache.NewMemoryCache(),
		propagator: &fakePropagator{},
		artifacts:  &artifacts{existing: map[string]bool{}},
	}
	prober := probe.NewProber(probe.DefaultConventions(base), h.artifacts, time.Second, time.Hour).WithClock(c.Now)
	h.applier = reconcile.NewApplier(h.store, h.propagator, h.cache)
	h.reconciler = reconcile.NewReconciler(h.store, prober, h.applier, h.cache, reconcile.Options{
		StuckThreshold: 5 * time.Minute,
		Concurrency:    4,
	}).WithClock(c.Now)
	return h
}

func (h *harness) submitted(t *testing.T, kind models.OperationKind, ref string) *models.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.store.Create(ctx, kind, "media", models.DependentRef{Table: "Composite Videos", RecordID: "rec-" + ref})
	require.NoError(t, err)
	require.NoError(t, h.store.AttachExternalReference(ctx, job.ID, ref))
	return job
}

func (h *harness) get(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

// --- Applier ---

func TestApply_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, models.OpSynthesizeSpeech, "tts-1")
	loc := base + "/tts-1_output_0.mp3"

	applied, err := h.applier.ApplyCompletion(ctx, job.ID, loc, models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = h.applier.ApplyCompletion(ctx, job.ID, loc, models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.False(t, applied)

	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, loc, *got.OutputLocation)
	assert.True(t, got.Propagated)
	assert.Equal(t, 1, h.propagator.count(), "dependent record updated once")

	status, found, err := h.cache.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestApply_ConflictKeepsFirstOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, models.OpCombineMedia, "abc")
	loc := base + "/abc_output_0.mp4"

	_, err := h.applier.ApplyCompletion(ctx, job.ID, loc, models.ResolvedByWebhook)
	require.NoError(t, err)

	applied, err := h.applier.ApplyFailure(ctx, job.ID, "render error", models.ResolvedByWebhook)
	assert.False(t, applied)
	require.ErrorIs(t, err, store.ErrConflict)

	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, models.Completed(loc), conflict.Recorded)

	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Nil(t, got.ErrorDetail)
	assert.Equal(t, 1, h.propagator.count())
}

func TestApply_PendingIsNoop(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, models.OpGenerateVideo, "v1")

	applied, err := h.applier.Apply(context.Background(), job.ID, models.StillPending(), models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.JobStatusProcessing, h.get(t, job.ID).Status)
	assert.Zero(t, h.propagator.count())
}

func TestApply_UnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.applier.ApplyCompletion(context.Background(), uuid.New(), "https://x", models.ResolvedByWebhook)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApply_PropagationFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, models.OpGenerateMusic, "m1")
	h.propagator.setErr(errors.New("record store unavailable"))

	applied, err := h.applier.ApplyCompletion(ctx, job.ID, base+"/m1_output_0.mp3", models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.True(t, applied)

	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.False(t, got.Propagated)
	assert.Equal(t, 1, got.PropagationAttempts)
	require.NotNil(t, got.PropagationError)

	// A replayed webhook retries only the propagation.
	h.propagator.setErr(nil)
	applied, err = h.applier.ApplyCompletion(ctx, job.ID, base+"/m1_output_0.mp3", models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, h.get(t, job.ID).Propagated)
}

func TestApply_ConcurrentDeliveriesConverge(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, models.OpCombineMedia, "race")
	loc := base + "/race_output_0.mp4"

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := models.ResolvedByWebhook
			if i%2 == 0 {
				source = models.ResolvedByReconcile
			}
			ok, err := h.applier.ApplyCompletion(context.Background(), job.ID, loc, source)
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, loc, *got.OutputLocation)
	assert.Equal(t, 1, h.propagator.count())
}

func TestApply_RacingDeliveriesUpdateDependentRecordOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		h.propagator.delay = 20 * time.Millisecond
		job := h.submitted(t, models.OpCombineMedia, "race-"+uuid.NewString())
		loc := base + "/race_output_0.mp4"

		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := h.applier.ApplyCompletion(context.Background(), job.ID, loc, models.ResolvedByWebhook)
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, 1, h.propagator.count(), "round %d", round)
		got := h.get(t, job.ID)
		assert.True(t, got.Propagated)
		assert.Equal(t, 1, got.PropagationAttempts)
	}
}

// --- Reconciler ---

func TestTick_CombineMediaLostCallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Submitted at T, provider returned abc123, callback never arrives.
	job := h.submitted(t, models.OpCombineMedia, "abc123")
	h.artifacts.put(base + "/abc123_output_0.mp4")

	// T+4min: not stuck yet.
	h.clock.Advance(4 * time.Minute)
	summary, err := h.reconciler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Checked)

	// T+6min: probed and resolved.
	h.clock.Advance(2 * time.Minute)
	summary, err = h.reconciler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TickSummary{Checked: 1, Resolved: 1, Propagated: 1}, summary)

	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, base+"/abc123_output_0.mp4", *got.OutputLocation)
	assert.Equal(t, models.ResolvedByReconcile, *got.ResolvedBy)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, h.clock.Now().Equal(*got.LastCheckedAt))
	assert.Equal(t, []uuid.UUID{job.ID}, h.propagator.calls)

	// The late callback is a no-op.
	applied, err := h.applier.ApplyCompletion(ctx, job.ID, base+"/abc123_output_0.mp4", models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.False(t, applied)

	// Nothing left to do.
	summary, err = h.reconciler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TickSummary{}, summary)
}

func TestTick_CeilingFailsJob(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, models.OpGenerateVideo, "never")

	h.clock.Advance(30 * time.Minute)
	summary, err := h.reconciler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, models.JobStatusProcessing, h.get(t, job.ID).Status)

	h.clock.Advance(31 * time.Minute)
	summary, err = h.reconciler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, probe.CeilingDetail, *got.ErrorDetail)
}

func TestTick_TransientProbeErrorsKeepJobPending(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, models.OpCombineMedia, "flaky")
	h.artifacts.err = probe.ErrTransientProbe

	h.clock.Advance(10 * time.Minute)
	summary, err := h.reconciler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickSummary{Checked: 1, Errors: 1}, summary)

	got := h.get(t, job.ID)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.LastCheckedAt)
}

func TestTick_RetriesUnpropagatedJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, models.OpSynthesizeSpeech, "tts-9")

	h.propagator.setErr(errors.New("503"))
	_, err := h.applier.ApplyCompletion(ctx, job.ID, base+"/tts-9_output_0.mp3", models.ResolvedByWebhook)
	require.NoError(t, err)

	summary, err := h.reconciler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.False(t, h.get(t, job.ID).Propagated)

	h.propagator.setErr(nil)
	summary, err = h.reconciler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Propagated)

	got := h.get(t, job.ID)
	assert.True(t, got.Propagated)
	assert.Equal(t, 3, got.PropagationAttempts)
}

func TestTick_StopsRetryingPropagationAtCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, models.OpSynthesizeSpeech, "gone")
	prober := probe.NewProber(probe.DefaultConventions(base), h.artifacts, time.Second, time.Hour)
	r := reconcile.NewReconciler(h.store, prober, h.applier, nil, reconcile.Options{MaxPropagationAttempts: 3})

	h.propagator.setErr(records.ErrRecordNotFound)
	_, err := h.applier.ApplyCompletion(ctx, job.ID, base+"/gone_output_0.mp3", models.ResolvedByWebhook)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := r.Tick(ctx)
		require.NoError(t, err)
	}

	got := h.get(t, job.ID)
	assert.False(t, got.Propagated)
	assert.Equal(t, 3, got.PropagationAttempts)
	assert.Equal(t, 3, h.propagator.count())

	summary, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TickSummary{}, summary)
}

func TestTick_ManyJobsBoundedConcurrency(t *testing.T) {
	h := newHarness(t)
	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		ref := uuid.NewString()
		job := h.submitted(t, models.OpConcatenateMedia, ref)
		ids = append(ids, job.ID)
		if i%2 == 0 {
			h.artifacts.put(base + "/" + ref + "_output_0.mp4")
		}
	}

	h.clock.Advance(10 * time.Minute)
	summary, err := h.reconciler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Checked)
	assert.Equal(t, 10, summary.Resolved)
	assert.Equal(t, 0, summary.Errors)

	completed := 0
	for _, id := range ids {
		if h.get(t, id).Status == models.JobStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 10, completed)
}

func TestTick_SingleFlightInProcess(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, models.OpCombineMedia, "slow")
	h.clock.Advance(10 * time.Minute)

	bp := &blockingProber{started: make(chan struct{}), release: make(chan struct{})}
	r := reconcile.NewReconciler(h.store, bp, h.applier, nil, reconcile.Options{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Tick(context.Background())
		done <- err
	}()
	<-bp.started

	_, err := r.Tick(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrTickInProgress)

	close(bp.release)
	require.NoError(t, <-done)
}

func TestTick_DistributedLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, ok, err := h.cache.AcquireLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.reconciler.Tick(ctx)
	assert.ErrorIs(t, err, reconcile.ErrTickInProgress)
}

func TestTick_ReleasesLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reconciler.Tick(ctx)
	require.NoError(t, err)
	_, err = h.reconciler.Tick(ctx)
	require.NoError(t, err)
}

func TestTick_ArchivesOldJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submitted(t, models.OpSynthesizeSpeech, "old")
	_, err := h.applier.ApplyCompletion(ctx, job.ID, base+"/old_output_0.mp3", models.ResolvedByWebhook)
	require.NoError(t, err)

	prober := probe.NewProber(probe.DefaultConventions(base), h.artifacts, time.Second, time.Hour)
	r := reconcile.NewReconciler(h.store, prober, h.applier, nil, reconcile.Options{ArchiveHorizon: 24 * time.Hour})

	h.clock.Advance(48 * time.Hour)
	_, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, h.get(t, job.ID).Archived)
}

// --- Scheduler ---

func TestTickerScheduler_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	done := make(chan struct{})
	go func() {
		reconcile.TickerScheduler{}.Schedule(ctx, 10*time.Millisecond, func(context.Context) {
			if runs.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

// manualScheduler runs the task a fixed number of times.
type manualScheduler struct{ beats int }

func (m manualScheduler) Schedule(ctx context.Context, _ time.Duration, task func(context.Context)) {
	for i := 0; i < m.beats; i++ {
		task(ctx)
	}
}

func TestRun_TicksOnEveryBeat(t *testing.T) {
	h := newHarness(t)
	job := h.submitted(t, models.OpCombineMedia, "beat")
	h.clock.Advance(10 * time.Minute)
	h.artifacts.put(base + "/beat_output_0.mp4")

	h.reconciler.Run(context.Background(), manualScheduler{beats: 2}, time.Minute)
	assert.Equal(t, models.JobStatusCompleted, h.get(t, job.ID).Status)
}
