package models

// ResultKind tags the ProbeResult variant.
type ResultKind string

const (
	ResultStillPending ResultKind = "still_pending"
	ResultCompleted    ResultKind = "completed"
	ResultFailed       ResultKind = "failed"
)

// ProbeResult is the single outcome shape produced by both the completion
// probe and the webhook normalizers. Only the field matching Kind is set.
type ProbeResult struct {
	Kind           ResultKind `json:"kind"`
	OutputLocation string     `json:"output_location,omitempty"`
	ErrorDetail    string     `json:"error_detail,omitempty"`
}

func StillPending() ProbeResult {
	return ProbeResult{Kind: ResultStillPending}
}

func Completed(location string) ProbeResult {
	return ProbeResult{Kind: ResultCompleted, OutputLocation: location}
}

func Failed(detail string) ProbeResult {
	return ProbeResult{Kind: ResultFailed, ErrorDetail: detail}
}

// IsPending reports whether the result carries no terminal outcome.
func (r ProbeResult) IsPending() bool {
	return r.Kind == ResultStillPending
}

// Equal reports whether two results describe the same outcome.
func (r ProbeResult) Equal(o ProbeResult) bool {
	return r == o
}

// TickSummary reports what one reconciliation tick did.
type TickSummary struct {
	Checked    int `json:"checked"`
	Resolved   int `json:"resolved"`
	Failed     int `json:"failed"`
	Propagated int `json:"propagated"`
	Errors     int `json:"errors"`
}
