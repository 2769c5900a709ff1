package records

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Status values written to the dependent record.
const (
	StatusReady  = "ready"
	StatusFailed = "failed"
)

// Propagator writes a terminal job outcome into the job's dependent record.
type Propagator struct {
	client Client
	fields config.FieldMapping
}

func NewPropagator(client Client, fields config.FieldMapping) *Propagator {
	return &Propagator{client: client, fields: fields}
}

// Propagate updates the dependent record with the artifact URL and a ready
// status, or a failed status and the error. Jobs without a dependent record
// are a no-op.
func (p *Propagator) Propagate(ctx context.Context, job *models.Job) error {
	if job.DependentRef.IsZero() {
		return nil
	}

	fields, err := p.fieldsFor(job)
	if err != nil {
		return err
	}
	return p.client.UpdateRecord(ctx, job.DependentRef.Table, job.DependentRef.RecordID, fields)
}

func (p *Propagator) fieldsFor(job *models.Job) (Fields, error) {
	fields := Fields{}
	if p.fields.JobID != "" {
		fields[p.fields.JobID] = job.ID.String()
	}

	switch outcome := job.Outcome(); outcome.Kind {
	case models.ResultCompleted:
		fields[p.fields.OutputURL] = outcome.OutputLocation
		fields[p.fields.Status] = StatusReady
	case models.ResultFailed:
		fields[p.fields.Status] = StatusFailed
		if p.fields.Error != "" {
			fields[p.fields.Error] = outcome.ErrorDetail
		}
	default:
		return nil, fmt.Errorf("job %s is %s, nothing to propagate", job.ID, job.Status)
	}
	return fields, nil
}
