package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// MemoryStore is an in-process JobStore. It backs tests and local runs
// without Postgres; state is lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's time source. Intended for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Create(_ context.Context, kind models.OperationKind, provider string, ref models.DependentRef) (*models.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("create job: unknown operation kind %q", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	job := &models.Job{
		ID:            uuid.New(),
		OperationKind: kind,
		Provider:      provider,
		Status:        models.JobStatusPending,
		DependentRef:  ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (m *MemoryStore) AttachExternalReference(_ context.Context, id uuid.UUID, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidState, id, job.Status)
	}
	if job.ExternalReferenceID != nil {
		if *job.ExternalReferenceID == externalRef {
			return nil
		}
		return fmt.Errorf("%w: job %s already has reference %q", ErrInvalidState, id, *job.ExternalReferenceID)
	}
	for _, other := range m.jobs {
		if other.ID != id && other.Provider == job.Provider && other.ExternalRef() == externalRef {
			return fmt.Errorf("%w: reference %q already attached to another job", ErrInvalidState, externalRef)
		}
	}
	ref := externalRef
	job.ExternalReferenceID = &ref
	job.Status = models.JobStatusProcessing
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryStore) FindStuck(_ context.Context, filter StuckFilter) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-filter.OlderThan)
	wanted := make(map[models.JobStatus]bool)
	for _, s := range filter.statuses() {
		wanted[s] = true
	}

	out := []*models.Job{}
	for _, job := range m.jobs {
		if job.Archived || !wanted[job.Status] || !job.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sortOldestFirst(out, func(j *models.Job) time.Time { return j.CreatedAt })
	return truncate(out, normalizeLimit(filter.Limit)), nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID, location string, opts ...TransitionOption) (bool, error) {
	if location == "" {
		return false, fmt.Errorf("%w: completion requires an output location", ErrInvalidState)
	}
	return m.mark(id, models.Completed(location), applyTransitionOptions(opts))
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, detail string, opts ...TransitionOption) (bool, error) {
	if detail == "" {
		return false, fmt.Errorf("%w: failure requires an error detail", ErrInvalidState)
	}
	return m.mark(id, models.Failed(detail), applyTransitionOptions(opts))
}

func (m *MemoryStore) mark(id uuid.UUID, want models.ProbeResult, params *transitionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status.IsTerminal() {
		return false, checkTerminal(job, want)
	}

	switch want.Kind {
	case models.ResultCompleted:
		loc := want.OutputLocation
		job.Status = models.JobStatusCompleted
		job.OutputLocation = &loc
	case models.ResultFailed:
		detail := want.ErrorDetail
		job.Status = models.JobStatusFailed
		job.ErrorDetail = &detail
	}
	job.ResolvedBy = params.ResolvedBy
	job.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) TouchChecked(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	job.LastCheckedAt = &t
	return nil
}

func (m *MemoryStore) MarkPropagated(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s, not terminal", ErrInvalidState, id, job.Status)
	}
	job.Propagated = true
	job.PropagationError = nil
	job.PropagationAttempts++
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) RecordPropagationFailure(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s, not terminal", ErrInvalidState, id, job.Status)
	}
	if job.Propagated {
		return nil
	}
	r := reason
	job.PropagationError = &r
	job.PropagationAttempts++
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) FindUnpropagated(_ context.Context, maxAttempts, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Job{}
	for _, job := range m.jobs {
		if maxAttempts > 0 && job.PropagationAttempts >= maxAttempts {
			continue
		}
		if job.Status.IsTerminal() && !job.Propagated && !job.Archived {
			out = append(out, cloneJob(job))
		}
	}
	sortOldestFirst(out, func(j *models.Job) time.Time { return j.UpdatedAt })
	return truncate(out, normalizeLimit(limit)), nil
}

func (m *MemoryStore) ArchiveOlderThan(_ context.Context, horizon time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-horizon)
	var n int64
	for _, job := range m.jobs {
		if job.Status.IsTerminal() && job.Propagated && !job.Archived && job.CreatedAt.Before(cutoff) {
			job.Archived = true
			n++
		}
	}
	return n, nil
}

func sortOldestFirst(jobs []*models.Job, key func(*models.Job) time.Time) {
	sort.Slice(jobs, func(i, k int) bool {
		ti, tk := key(jobs[i]), key(jobs[k])
		if !ti.Equal(tk) {
			return ti.Before(tk)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
}

func truncate(jobs []*models.Job, limit int) []*models.Job {
	if len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

// cloneJob copies a job including its pointer fields so callers never alias store state.
func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.ExternalReferenceID = cloneString(j.ExternalReferenceID)
	c.OutputLocation = cloneString(j.OutputLocation)
	c.ErrorDetail = cloneString(j.ErrorDetail)
	c.PropagationError = cloneString(j.PropagationError)
	c.ResolvedBy = cloneString(j.ResolvedBy)
	if j.LastCheckedAt != nil {
		t := *j.LastCheckedAt
		c.LastCheckedAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

var _ JobStore = (*MemoryStore)(nil)
