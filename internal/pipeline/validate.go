package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/apflow/internal/model"
	"github.com/sells-group/apflow/internal/resilience"
	"github.com/sells-group/apflow/pkg/erp"
)

// checkApplicable reports whether the invoice carries the field(s) a check
// verifies. Checks for absent fields are not issued; the aggregator treats
// them as NotFound.
func checkApplicable(inv *model.ExtractedInvoice, kind model.CheckKind) bool {
	switch kind {
	case model.CheckTaxID:
		return inv.TaxID != nil
	case model.CheckNationalID:
		return inv.NationalID != nil
	case model.CheckBank:
		return inv.IBAN != nil && inv.BIC != nil
	case model.CheckPurchaseOrder:
		return inv.PurchaseOrder != nil
	default:
		return false
	}
}

// checkCall binds a check kind to the tool client method that performs it.
func checkCall(client erp.Client, inv *model.ExtractedInvoice, kind model.CheckKind) func(ctx context.Context) (*erp.CheckResponse, error) {
	hint := inv.SupplierHint()
	switch kind {
	case model.CheckTaxID:
		return func(ctx context.Context) (*erp.CheckResponse, error) {
			return client.CheckTaxID(ctx, inv.TaxID.Value, hint)
		}
	case model.CheckNationalID:
		return func(ctx context.Context) (*erp.CheckResponse, error) {
			return client.CheckNationalID(ctx, inv.NationalID.Value)
		}
	case model.CheckBank:
		return func(ctx context.Context) (*erp.CheckResponse, error) {
			return client.CheckBank(ctx, inv.IBAN.Value, inv.BIC.Value, hint)
		}
	case model.CheckPurchaseOrder:
		return func(ctx context.Context) (*erp.CheckResponse, error) {
			return client.CheckPurchaseOrder(ctx, inv.PurchaseOrder.Value)
		}
	default:
		return nil
	}
}

// RunChecks fans out every applicable verification concurrently and joins
// before returning: the outcome set is always fully settled (success, or
// tool error after exhausted retries). No partial set is ever returned.
// Outcomes are in AllCheckKinds order regardless of completion order.
func RunChecks(ctx context.Context, client erp.Client, inv *model.ExtractedInvoice, retry resilience.RetryConfig) []model.VerificationOutcome {
	results := make(map[model.CheckKind]model.VerificationOutcome, len(model.AllCheckKinds))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for _, kind := range model.AllCheckKinds {
		if !checkApplicable(inv, kind) {
			continue
		}

		call := checkCall(client, inv, kind)
		g.Go(func() error {
			outcome := runOneCheck(gCtx, kind, call, retry)
			mu.Lock()
			results[kind] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]model.VerificationOutcome, 0, len(results))
	for _, kind := range model.AllCheckKinds {
		if o, ok := results[kind]; ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}

// runOneCheck performs a single verification with the bounded retry policy.
// Exhausted retries and non-retryable failures are recorded as a ToolError
// outcome, never dropped.
func runOneCheck(ctx context.Context, kind model.CheckKind, call func(context.Context) (*erp.CheckResponse, error), retry resilience.RetryConfig) model.VerificationOutcome {
	retry.OnRetry = resilience.RetryLogger(string(kind))

	start := time.Now().UTC()
	resp, err := resilience.DoVal(ctx, retry, call)
	latency := time.Since(start)

	if err != nil {
		logToolError(kind, err)
		return model.VerificationOutcome{
			Kind:      kind,
			Result:    model.ResultToolError,
			Message:   err.Error(),
			Latency:   latency,
			CheckedAt: start,
		}
	}

	return model.VerificationOutcome{
		Kind:           kind,
		Result:         statusToResult(resp.Status),
		CorrectedValue: resp.CanonicalValue,
		Message:        resp.Message,
		Latency:        latency,
		CheckedAt:      start,
	}
}

// logToolError logs protocol errors distinctly from transport failures:
// a malformed tool response is an integration defect, not an outage.
func logToolError(kind model.CheckKind, err error) {
	if tf, ok := erp.AsFailure(err); ok && tf.Kind == erp.FailureProtocol {
		zap.L().Error("malformed verification response",
			zap.String("check", string(kind)),
			zap.Error(err),
		)
		return
	}
	zap.L().Warn("verification unreachable after retries",
		zap.String("check", string(kind)),
		zap.Error(err),
	)
}

func statusToResult(s erp.CheckStatus) model.CheckResult {
	switch s {
	case erp.StatusMatch:
		return model.ResultMatch
	case erp.StatusMismatch:
		return model.ResultMismatch
	default:
		return model.ResultNotFound
	}
}
