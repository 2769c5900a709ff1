package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/internal/submit"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Submitter outsources one operation and tracks it as a job.
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*models.Job, error)
}

// JobGetter looks up a job by id.
type JobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// StatusCache holds recently seen job statuses.
type StatusCache interface {
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error)
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error
}

const statusCacheTTL = 30 * time.Minute

type jobStatus struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Cached bool             `json:"cached"`
}

type submitRequest struct {
	OperationKind models.OperationKind `json:"operation_kind"`
	Provider      string               `json:"provider"`
	Params        provider.Params      `json:"params"`
	DependentRef  models.DependentRef  `json:"dependent_record_ref"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /internal/jobs.
func NewSubmitJobHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.OperationKind == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "operation_kind is required", nil)
			return
		}
		if !req.OperationKind.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"operation_kind is not supported", map[string]any{"allowed": models.OperationKinds})
			return
		}

		job, err := svc.Submit(r.Context(), submit.Request{
			Kind:         req.OperationKind,
			Provider:     req.Provider,
			Params:       req.Params,
			DependentRef: req.DependentRef,
		})
		if err != nil {
			switch {
			case errors.Is(err, submit.ErrInvalidRequest), errors.Is(err, provider.ErrUnsupportedKind):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case job != nil:
				// The job exists and was failed; report it alongside the cause.
				response.Error(w, http.StatusBadGateway, "PROVIDER_REJECTED", err.Error(), job)
			default:
				slog.Error("submitting job", "operation_kind", req.OperationKind, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /internal/jobs/{jobID}.
func NewGetJobHandler(jobs JobGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := jobs.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("getting job", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewGetJobStatusHandler returns an http.HandlerFunc for
// GET /internal/jobs/{jobID}/status. Only terminal statuses are answered from
// the cache; anything else is read from the store and written back.
func NewGetJobStatusHandler(statuses StatusCache, jobs JobGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		if statuses != nil {
			status, found, err := statuses.GetJobStatus(r.Context(), id)
			if err != nil {
				slog.Debug("job status cache read failed", "job_id", id, "error", err)
			}
			if found && status.IsTerminal() {
				response.JSON(w, jobStatus{JobID: id, Status: status, Cached: true})
				return
			}
		}

		job, err := jobs.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("getting job status", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if statuses != nil {
			if err := statuses.SetJobStatus(r.Context(), id, job.Status, statusCacheTTL); err != nil {
				slog.Debug("job status cache write failed", "job_id", id, "error", err)
			}
		}
		response.JSON(w, jobStatus{JobID: id, Status: job.Status})
	}
}
