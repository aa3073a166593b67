package model

import "time"

// RunState is the orchestrator's state for one pipeline run.
type RunState string

const (
	RunStateReceived    RunState = "received"
	RunStateValidating  RunState = "validating"
	RunStateAggregating RunState = "aggregating"
	RunStateRouted      RunState = "routed"
	RunStateFinalizing  RunState = "finalizing"
	RunStateCompleted   RunState = "completed"
	RunStateFailed      RunState = "failed"
)

// Terminal reports whether the state ends the run.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// ReportKind classifies the terminal report of a run.
type ReportKind string

const (
	ReportAccepted ReportKind = "accepted"
	ReportRejected ReportKind = "rejected"
	ReportReview   ReportKind = "review_required"
	ReportFailed   ReportKind = "failure"
)

// ReportFailure names one failed field and why it failed. Field is usually a
// check kind; reference-system rejections at creation time use "invoice".
type ReportFailure struct {
	Field          string `json:"field"`
	Reason         string `json:"reason"`
	SuggestedValue string `json:"suggested_value,omitempty"`
}

// Report is the structured terminal report every run produces, whatever its
// outcome. Rejection and review reports are what the notification carries.
type Report struct {
	Kind            ReportKind      `json:"kind"`
	InvoiceNumber   string          `json:"invoice_number"`
	SupplierName    string          `json:"supplier_name"`
	CreatedRecordID string          `json:"created_record_id,omitempty"`
	Failures        []ReportFailure `json:"failures,omitempty"`
	Unresolved      []CheckKind     `json:"unresolved,omitempty"`
	Recommendation  string          `json:"recommendation,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// PipelineRun is the full lifecycle record for one invoice. The orchestrator
// exclusively owns a run for its lifetime; no other component mutates it.
type PipelineRun struct {
	ID         string                `json:"id"`
	State      RunState              `json:"state"`
	Invoice    ExtractedInvoice      `json:"invoice"`
	Outcomes   []VerificationOutcome `json:"outcomes,omitempty"`
	Confidence *AggregatedConfidence `json:"confidence,omitempty"`
	Decision   *RoutingDecision      `json:"decision,omitempty"`
	Report     *Report               `json:"report,omitempty"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// IdempotencyKey derives the key the record-creation call carries so a
// retried finalize step cannot create a duplicate downstream record. It is a
// stable function of the run identity.
func (r *PipelineRun) IdempotencyKey() string {
	return "run-" + r.ID
}
