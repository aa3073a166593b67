package pipeline

import (
	"fmt"

	"github.com/sells-group/apflow/internal/model"
)

// RouteConfig holds the routing threshold.
type RouteConfig struct {
	// ProceedThreshold is the overall score an invoice must exceed to be
	// auto-approved.
	ProceedThreshold float64
}

// Route maps an aggregated confidence onto the tri-state business verdict.
// Pure function, no side effects.
//
// Proceed requires the score to clear the threshold, every checked field to
// pass, and nothing unresolved. Reject requires a definitive mismatch or
// not-found with nothing unresolved: unresolved information always outranks
// a confirmed mismatch, because an automatic rejection should only fire when
// the system is certain something is wrong. Everything else is ManualReview.
func Route(conf *model.AggregatedConfidence, cfg RouteConfig) *model.RoutingDecision {
	allPassed := true
	definitiveFailure := false
	for _, v := range conf.Verdicts {
		if !v.Passed {
			allPassed = false
		}
		if !v.Passed && v.Result.DefinitiveFailure() {
			definitiveFailure = true
		}
	}
	unresolved := len(conf.Unresolved) > 0

	if conf.OverallScore > cfg.ProceedThreshold && allPassed && !conf.ForceReview && !unresolved {
		return &model.RoutingDecision{
			Decision: model.DecisionProceed,
			Reasons: []string{
				fmt.Sprintf("overall score %.2f above threshold %.2f and all checks passed", conf.OverallScore, cfg.ProceedThreshold),
			},
		}
	}

	if conf.OverallScore <= cfg.ProceedThreshold && definitiveFailure && !unresolved && !conf.ForceReview {
		reasons := append([]string{
			fmt.Sprintf("overall score %.2f at or below threshold %.2f", conf.OverallScore, cfg.ProceedThreshold),
		}, conf.FailureReasons...)
		return &model.RoutingDecision{Decision: model.DecisionReject, Reasons: reasons}
	}

	return &model.RoutingDecision{
		Decision: model.DecisionManualReview,
		Reasons:  reviewReasons(conf, cfg),
	}
}

func reviewReasons(conf *model.AggregatedConfidence, cfg RouteConfig) []string {
	var reasons []string
	if conf.ForceReview {
		reasons = append(reasons, fmt.Sprintf("%d verification check(s) could not be evaluated", len(conf.Unresolved)))
	}
	for _, kind := range conf.Unresolved {
		reasons = append(reasons, fmt.Sprintf("%s: verification unresolved", kind))
	}
	reasons = append(reasons, conf.FailureReasons...)
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("overall score %.2f at or below threshold %.2f with no definitive failure", conf.OverallScore, cfg.ProceedThreshold))
	}
	return reasons
}
