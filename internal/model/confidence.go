package model

// FieldVerdict is the aggregator's per-check verdict.
type FieldVerdict struct {
	Kind           CheckKind   `json:"kind"`
	Result         CheckResult `json:"result"`
	Confidence     float64     `json:"confidence"`
	Passed         bool        `json:"passed"`
	Reason         string      `json:"reason,omitempty"`
	SuggestedValue string      `json:"suggested_value,omitempty"`
}

// AggregatedConfidence combines all verification outcomes into one scalar
// score plus per-field verdicts. It is a pure function of the outcome set and
// the invoice's extraction confidences; see pipeline.Aggregate.
type AggregatedConfidence struct {
	OverallScore   float64        `json:"overall_score"`
	Verdicts       []FieldVerdict `json:"verdicts"`
	Unresolved     []CheckKind    `json:"unresolved,omitempty"` // checks that errored, excluded from the mean
	FailureReasons []string       `json:"failure_reasons,omitempty"`

	// ForceReview is set when too many checks could not be evaluated:
	// an unreachable verification system must never be read as a pass.
	ForceReview bool `json:"force_review"`
}

// Decision is the tri-state business verdict for one invoice.
type Decision string

const (
	DecisionProceed      Decision = "proceed"
	DecisionReject       Decision = "reject"
	DecisionManualReview Decision = "manual_review"
)

// RoutingDecision is the decision plus the reasons that produced it.
// Terminal for one invoice-processing attempt.
type RoutingDecision struct {
	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons,omitempty"`
}
