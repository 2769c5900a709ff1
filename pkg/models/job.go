package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an outsourced operation.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// NonTerminalStatuses is the default status set scanned for stuck jobs.
var NonTerminalStatuses = []JobStatus{JobStatusPending, JobStatusProcessing}

// OperationKind is the closed set of operations submitted to external providers.
type OperationKind string

const (
	OpSynthesizeSpeech OperationKind = "synthesize_speech"
	OpCombineMedia     OperationKind = "combine_media"
	OpConcatenateMedia OperationKind = "concatenate_media"
	OpGenerateMusic    OperationKind = "generate_music"
	OpGenerateVideo    OperationKind = "generate_video"
)

// OperationKinds lists every valid OperationKind.
var OperationKinds = []OperationKind{
	OpSynthesizeSpeech,
	OpCombineMedia,
	OpConcatenateMedia,
	OpGenerateMusic,
	OpGenerateVideo,
}

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	for _, known := range OperationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Resolution sources recorded on a job when it reaches a terminal state.
const (
	ResolvedByWebhook   = "webhook"
	ResolvedByReconcile = "reconcile"
	ResolvedBySubmit    = "submit"
)

// DependentRef points at the downstream record (a segment, a composite video)
// that must be updated once the job resolves.
type DependentRef struct {
	Table    string `json:"table"`
	RecordID string `json:"record_id"`
}

// IsZero reports whether the reference is unset.
func (r DependentRef) IsZero() bool {
	return r.Table == "" && r.RecordID == ""
}

// Job tracks one asynchronous operation submitted to an external provider.
// The provider either calls back on /webhooks/{provider}?job_id={id} or the
// reconciler infers the outcome by probing the expected output location.
type Job struct {
	ID                  uuid.UUID     `db:"id"                    json:"id"`
	ExternalReferenceID *string       `db:"external_reference_id" json:"external_reference_id,omitempty"`
	OperationKind       OperationKind `db:"operation_kind"        json:"operation_kind"`
	Provider            string        `db:"provider"              json:"provider"`
	Status              JobStatus     `db:"status"                json:"status"`
	OutputLocation      *string       `db:"output_location"       json:"output_location,omitempty"`
	ErrorDetail         *string       `db:"error_detail"          json:"error_detail,omitempty"`
	DependentRef        DependentRef  `db:"-"                     json:"dependent_record_ref"`
	Propagated          bool          `db:"propagated"            json:"propagated"`
	PropagationAttempts int           `db:"propagation_attempts"  json:"propagation_attempts"`
	PropagationError    *string       `db:"propagation_error"     json:"propagation_error,omitempty"`
	ResolvedBy          *string       `db:"resolved_by"           json:"resolved_by,omitempty"`
	Archived            bool          `db:"archived"              json:"archived"`
	LastCheckedAt       *time.Time    `db:"last_checked_at"       json:"last_checked_at,omitempty"`
	CreatedAt           time.Time     `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at"            json:"updated_at"`
}

// Age returns how long ago the job was created, relative to now.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// ExternalRef returns the external reference id, or "" when none was issued.
func (j *Job) ExternalRef() string {
	if j.ExternalReferenceID == nil {
		return ""
	}
	return *j.ExternalReferenceID
}

// Outcome returns the terminal outcome of the job as a ProbeResult.
// Non-terminal jobs report StillPending.
func (j *Job) Outcome() ProbeResult {
	switch j.Status {
	case JobStatusCompleted:
		if j.OutputLocation != nil {
			return Completed(*j.OutputLocation)
		}
	case JobStatusFailed:
		if j.ErrorDetail != nil {
			return Failed(*j.ErrorDetail)
		}
	}
	return StillPending()
}
