package model

import "time"

// CheckKind identifies one reference-data verification.
type CheckKind string

const (
	CheckTaxID         CheckKind = "tax_id"
	CheckNationalID    CheckKind = "national_id"
	CheckBank          CheckKind = "bank"
	CheckPurchaseOrder CheckKind = "purchase_order"
)

// AllCheckKinds lists every check the pipeline can issue, in stable order.
// Aggregation iterates this slice so recomputation over the same inputs is
// bit-identical regardless of fan-out completion order.
var AllCheckKinds = []CheckKind{CheckTaxID, CheckNationalID, CheckBank, CheckPurchaseOrder}

// CheckResult classifies the outcome of one verification call.
type CheckResult string

const (
	ResultMatch    CheckResult = "match"
	ResultMismatch CheckResult = "mismatch"
	ResultNotFound CheckResult = "not_found"

	// ResultToolError means the reference system could not be consulted
	// (after retries). It is a distinct category from NotFound and is never
	// interpreted as a pass or a fail.
	ResultToolError CheckResult = "tool_error"
)

// DefinitiveFailure reports whether the reference system authoritatively
// contradicted the extracted value. A Match that merely carries low
// extraction confidence is not a definitive failure, and a ToolError is a
// failure to get an answer rather than an answer.
func (r CheckResult) DefinitiveFailure() bool {
	return r == ResultMismatch || r == ResultNotFound
}

// VerificationOutcome is the result of checking one extracted field against
// the reference system. Immutable once produced by the tool client.
type VerificationOutcome struct {
	Kind           CheckKind     `json:"kind"`
	Result         CheckResult   `json:"result"`
	CorrectedValue string        `json:"corrected_value,omitempty"` // canonical value on mismatch
	Message        string        `json:"message,omitempty"`
	Latency        time.Duration `json:"latency_ns"`
	CheckedAt      time.Time     `json:"checked_at"`
}
