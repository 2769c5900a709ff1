// Package probe infers the outcome of a job whose callback never arrived by
// checking for its artifact at the location the provider is known to write to.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// ErrTransientProbe means existence could not be determined. The job stays pending.
var ErrTransientProbe = errors.New("transient probe error")

// CeilingDetail is the error detail recorded when a job times out.
const CeilingDetail = "no output after ceiling"

// Prober derives a job's outcome from artifact existence.
type Prober struct {
	conventions *Conventions
	checker     Checker
	timeout     time.Duration
	ceiling     time.Duration
	now         func() time.Time
}

// NewProber creates a Prober. timeout bounds each probe; ceiling is the job age
// after which a missing artifact counts as failure.
func NewProber(conventions *Conventions, checker Checker, timeout, ceiling time.Duration) *Prober {
	return &Prober{
		conventions: conventions,
		checker:     checker,
		timeout:     timeout,
		ceiling:     ceiling,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for the ceiling check.
func (p *Prober) WithClock(now func() time.Time) *Prober {
	p.now = now
	return p
}

// Probe checks the job's candidate locations. It never returns failed because of
// a check error; a returned error is always ErrTransientProbe alongside
// StillPending, unless the ceiling has passed.
func (p *Prober) Probe(ctx context.Context, job *models.Job) (models.ProbeResult, error) {
	if job.Status.IsTerminal() {
		return job.Outcome(), nil
	}

	pastCeiling := job.Age(p.now()) > p.ceiling
	candidates := p.conventions.Candidates(job)
	if len(candidates) == 0 {
		if pastCeiling {
			return models.Failed(CeilingDetail), nil
		}
		return models.StillPending(), nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var checkErr error
	for _, loc := range candidates {
		exists, err := p.checker.Exists(ctx, loc)
		if err != nil {
			checkErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if exists {
			return models.Completed(loc), nil
		}
	}

	if pastCeiling {
		return models.Failed(CeilingDetail), nil
	}
	if checkErr != nil {
		if !errors.Is(checkErr, ErrTransientProbe) {
			checkErr = fmt.Errorf("%w: %v", ErrTransientProbe, checkErr)
		}
		return models.StillPending(), checkErr
	}
	return models.StillPending(), nil
}
