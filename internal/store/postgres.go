package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const jobColumns = `id, external_reference_id, operation_kind, provider, status, output_location, error_detail,
	dependent_table, dependent_record_id, propagated, propagation_attempts, propagation_error,
	resolved_by, archived, last_checked_at, created_at, updated_at`

// PostgresStore implements JobStore using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the store's time source. Intended for tests.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, kind models.OperationKind, provider string, ref models.DependentRef) (*models.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("create job: unknown operation kind %q", kind)
	}
	now := s.now().Truncate(time.Microsecond)
	job := &models.Job{
		ID:            uuid.New(),
		OperationKind: kind,
		Provider:      provider,
		Status:        models.JobStatusPending,
		DependentRef:  ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, operation_kind, provider, status, dependent_table, dependent_record_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.OperationKind, job.Provider, job.Status, ref.Table, ref.RecordID, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) AttachExternalReference(ctx context.Context, id uuid.UUID, externalRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET external_reference_id = $2, status = 'processing', updated_at = $3
		 WHERE id = $1 AND status IN ('pending', 'processing')
		   AND (external_reference_id IS NULL OR external_reference_id = $2)`,
		id, externalRef, s.now())
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: reference %q already attached to another job", ErrInvalidState, externalRef)
		}
		return fmt.Errorf("attach external reference: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidState, id, job.Status)
	}
	return fmt.Errorf("%w: job %s already has reference %q", ErrInvalidState, id, job.ExternalRef())
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindStuck(ctx context.Context, filter StuckFilter) ([]*models.Job, error) {
	statuses := filter.statuses()
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	cutoff := s.now().Add(-filter.OlderThan)

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ANY($1) AND created_at < $2 AND NOT archived
		 ORDER BY created_at ASC, id ASC LIMIT $3`,
		names, cutoff, normalizeLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("find stuck jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, location string, opts ...TransitionOption) (bool, error) {
	if location == "" {
		return false, fmt.Errorf("%w: completion requires an output location", ErrInvalidState)
	}
	params := applyTransitionOptions(opts)
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', output_location = $2, resolved_by = $3, updated_at = $4
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, location, params.ResolvedBy, s.now())
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	return s.afterMark(ctx, id, tag, models.Completed(location))
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, detail string, opts ...TransitionOption) (bool, error) {
	if detail == "" {
		return false, fmt.Errorf("%w: failure requires an error detail", ErrInvalidState)
	}
	params := applyTransitionOptions(opts)
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_detail = $2, resolved_by = $3, updated_at = $4
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, detail, params.ResolvedBy, s.now())
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	return s.afterMark(ctx, id, tag, models.Failed(detail))
}

// afterMark resolves a compare-and-set that touched no row: either the job
// does not exist or it is already terminal.
func (s *PostgresStore) afterMark(ctx context.Context, id uuid.UUID, tag pgconn.CommandTag, want models.ProbeResult) (bool, error) {
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !job.Status.IsTerminal() {
		// Lost a race with a concurrent writer that has not committed yet.
		return false, fmt.Errorf("%w: job %s not updated while %s", ErrInvalidState, id, job.Status)
	}
	return false, checkTerminal(job, want)
}

func (s *PostgresStore) TouchChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET last_checked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch job checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkPropagated(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET propagated = TRUE, propagation_error = NULL,
		   propagation_attempts = propagation_attempts + 1, updated_at = $2
		 WHERE id = $1 AND status IN ('completed', 'failed')`, id, s.now())
	if err != nil {
		return fmt.Errorf("mark job propagated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissingTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) RecordPropagationFailure(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET propagation_error = $2, propagation_attempts = propagation_attempts + 1, updated_at = $3
		 WHERE id = $1 AND status IN ('completed', 'failed') AND NOT propagated`, id, reason, s.now())
	if err != nil {
		return fmt.Errorf("record propagation failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissingTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) explainMissingTerminal(ctx context.Context, id uuid.UUID) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s, not terminal", ErrInvalidState, id, job.Status)
	}
	return nil
}

func (s *PostgresStore) FindUnpropagated(ctx context.Context, maxAttempts, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('completed', 'failed') AND NOT propagated AND NOT archived
		   AND ($1 <= 0 OR propagation_attempts < $1)
		 ORDER BY updated_at ASC, id ASC LIMIT $2`, maxAttempts, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find unpropagated jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ArchiveOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET archived = TRUE
		 WHERE status IN ('completed', 'failed') AND propagated AND NOT archived AND created_at < $1`,
		s.now().Add(-horizon))
	if err != nil {
		return 0, fmt.Errorf("archive jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ExternalReferenceID, &j.OperationKind, &j.Provider, &j.Status,
		&j.OutputLocation, &j.ErrorDetail, &j.DependentRef.Table, &j.DependentRef.RecordID,
		&j.Propagated, &j.PropagationAttempts, &j.PropagationError, &j.ResolvedBy, &j.Archived,
		&j.LastCheckedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ JobStore = (*PostgresStore)(nil)
