package pipeline

import (
	"fmt"

	"github.com/sells-group/apflow/internal/model"
)

// AggregateConfig holds the aggregator's thresholds.
type AggregateConfig struct {
	// FieldThreshold is the minimum field-confidence for a per-field pass.
	FieldThreshold float64

	// ToolErrorReviewThreshold is how many unresolved checks force manual
	// review. Values below 1 are treated as 1: by default any unreachable
	// verification forces review.
	ToolErrorReviewThreshold int
}

// Aggregate combines the settled verification outcomes with the invoice's
// own extraction confidences into one scalar score and per-field verdicts.
//
// It is a pure function: no clock, no randomness, no re-querying.
// Recomputing over identical inputs yields bit-identical scores. Outcomes
// are keyed by check kind and evaluated in the stable AllCheckKinds order,
// so fan-out completion order cannot influence the result.
func Aggregate(inv *model.ExtractedInvoice, outcomes []model.VerificationOutcome, cfg AggregateConfig) *model.AggregatedConfidence {
	byKind := make(map[model.CheckKind]model.VerificationOutcome, len(outcomes))
	for _, o := range outcomes {
		if _, dup := byKind[o.Kind]; !dup {
			byKind[o.Kind] = o
		}
	}

	agg := &model.AggregatedConfidence{}
	resolvedSum := 0.0
	resolvedCount := 0

	for _, kind := range model.AllCheckKinds {
		outcome, ok := byKind[kind]
		if !ok {
			// A check kind with no outcome is a NotFound, never a silent
			// skip: either the field was not extracted or the orchestrator
			// failed to record an attempt.
			outcome = model.VerificationOutcome{
				Kind:    kind,
				Result:  model.ResultNotFound,
				Message: missingOutcomeReason(inv, kind),
			}
		}

		verdict := model.FieldVerdict{
			Kind:           kind,
			Result:         outcome.Result,
			SuggestedValue: outcome.CorrectedValue,
		}

		switch outcome.Result {
		case model.ResultMatch:
			// The reference system agrees; trust the extractor's own score.
			verdict.Confidence = extractionConfidence(inv, kind)
			verdict.Passed = verdict.Confidence >= cfg.FieldThreshold
			if !verdict.Passed {
				verdict.Reason = fmt.Sprintf("verified but extraction confidence %.2f is below %.2f", verdict.Confidence, cfg.FieldThreshold)
			}

		case model.ResultMismatch:
			verdict.Confidence = 0.0
			verdict.Passed = false
			verdict.Reason = reasonOrDefault(outcome.Message, "extracted value does not match reference data")

		case model.ResultNotFound:
			verdict.Confidence = 0.0
			verdict.Passed = false
			verdict.Reason = reasonOrDefault(outcome.Message, "not found in reference data")

		case model.ResultToolError:
			// The check never got evaluated. It is excluded from the scalar
			// mean but recorded as unresolved so routing can see it.
			verdict.Confidence = 0.0
			verdict.Passed = false
			verdict.Reason = reasonOrDefault(outcome.Message, "verification system unreachable")
			agg.Unresolved = append(agg.Unresolved, kind)
			agg.Verdicts = append(agg.Verdicts, verdict)
			continue
		}

		resolvedSum += verdict.Confidence
		resolvedCount++

		if !verdict.Passed {
			agg.FailureReasons = append(agg.FailureReasons, fmt.Sprintf("%s: %s", kind, verdict.Reason))
		}
		agg.Verdicts = append(agg.Verdicts, verdict)
	}

	if resolvedCount > 0 {
		agg.OverallScore = resolvedSum / float64(resolvedCount)
	}

	reviewThreshold := cfg.ToolErrorReviewThreshold
	if reviewThreshold < 1 {
		reviewThreshold = 1
	}
	agg.ForceReview = len(agg.Unresolved) >= reviewThreshold

	return agg
}

// extractionConfidence returns the extractor's confidence for the field a
// check verifies. The bank check covers two extracted fields (IBAN and BIC);
// the lower of the two governs.
func extractionConfidence(inv *model.ExtractedInvoice, kind model.CheckKind) float64 {
	switch kind {
	case model.CheckTaxID:
		return fieldConfidence(inv.TaxID)
	case model.CheckNationalID:
		return fieldConfidence(inv.NationalID)
	case model.CheckBank:
		return min(fieldConfidence(inv.IBAN), fieldConfidence(inv.BIC))
	case model.CheckPurchaseOrder:
		return fieldConfidence(inv.PurchaseOrder)
	default:
		return 0.0
	}
}

func fieldConfidence(f *model.FieldValue) float64 {
	if f == nil {
		return 0.0
	}
	return f.Confidence
}

func missingOutcomeReason(inv *model.ExtractedInvoice, kind model.CheckKind) string {
	if !checkApplicable(inv, kind) {
		return "field not extracted from invoice"
	}
	return "no verification outcome recorded"
}

func reasonOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
