// Package pipeline implements the invoice validation and routing pipeline:
// concurrent reference-data verification, deterministic confidence
// aggregation, tri-state routing, and the run state machine that ties them
// together.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apflow/internal/config"
	"github.com/sells-group/apflow/internal/model"
	"github.com/sells-group/apflow/internal/notify"
	"github.com/sells-group/apflow/internal/resilience"
	"github.com/sells-group/apflow/internal/store"
	"github.com/sells-group/apflow/pkg/erp"
)

// ErrExtractionMalformed marks an input invoice missing mandatory identity
// fields. Fatal to the run; no tool call is issued.
var ErrExtractionMalformed = eris.New("pipeline: extracted invoice is missing mandatory identity fields")

// Pipeline orchestrates one run per submitted invoice. Each run is owned by
// a single logical worker; concurrent runs share no mutable state.
type Pipeline struct {
	store    store.Store
	erp      erp.Client
	notifier notify.Notifier
	aggCfg   AggregateConfig
	routeCfg RouteConfig
	retry    resilience.RetryConfig
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, client erp.Client, notifier notify.Notifier) *Pipeline {
	return &Pipeline{
		store:    st,
		erp:      client,
		notifier: notifier,
		aggCfg: AggregateConfig{
			FieldThreshold:           cfg.Pipeline.FieldThreshold,
			ToolErrorReviewThreshold: cfg.Pipeline.ToolErrorReviewThreshold,
		},
		routeCfg: RouteConfig{ProceedThreshold: cfg.Pipeline.ProceedThreshold},
		retry: resilience.FromConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		),
	}
}

// Run processes one extracted invoice to a terminal state. The returned run
// is always terminal (Completed or Failed) and always carries a report; the
// error is non-nil only for Failed runs.
func (p *Pipeline) Run(ctx context.Context, inv model.ExtractedInvoice) (*model.PipelineRun, error) {
	return p.RunAs(ctx, uuid.New().String(), inv)
}

// RunAs is Run with a caller-chosen run ID, letting asynchronous submitters
// hand the ID back before the run finishes.
func (p *Pipeline) RunAs(ctx context.Context, id string, inv model.ExtractedInvoice) (*model.PipelineRun, error) {
	run := newRun(id, inv)
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: run received")

	if err := p.store.CreateRun(ctx, run); err != nil {
		// The run still ends terminal with a failure report even when the
		// initial persist is refused.
		return p.fail(ctx, run, log, eris.Wrap(err, "pipeline: create run"))
	}
	return p.execute(ctx, run, log)
}

// Submit persists a run in the Received state without executing it, so an
// asynchronous caller can hand out the run ID before execution begins. The
// caller must follow up with Execute.
func (p *Pipeline) Submit(ctx context.Context, id string, inv model.ExtractedInvoice) (*model.PipelineRun, error) {
	run := newRun(id, inv)
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	zap.L().Info("pipeline: run submitted", zap.String("run_id", run.ID))
	return run, nil
}

// Execute drives a previously submitted run to a terminal state. Same
// contract as Run: the returned run is terminal and carries a report.
func (p *Pipeline) Execute(ctx context.Context, run *model.PipelineRun) (*model.PipelineRun, error) {
	return p.execute(ctx, run, zap.L().With(zap.String("run_id", run.ID)))
}

func newRun(id string, inv model.ExtractedInvoice) *model.PipelineRun {
	now := time.Now().UTC()
	return &model.PipelineRun{
		ID:        id,
		State:     model.RunStateReceived,
		Invoice:   inv,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Pipeline) execute(ctx context.Context, run *model.PipelineRun, log *zap.Logger) (*model.PipelineRun, error) {
	// Malformed input fails before any tool call.
	if !run.Invoice.HasIdentity() {
		return p.fail(ctx, run, log, ErrExtractionMalformed)
	}

	// Validating: fan out the applicable checks, join on the settled set.
	p.transition(ctx, run, log, model.RunStateValidating)
	run.Outcomes = RunChecks(ctx, p.erp, &run.Invoice, p.retry)

	if err := ctx.Err(); err != nil {
		// Cancellation is honored up to Finalizing.
		return p.fail(ctx, run, log, eris.Wrap(err, "pipeline: run cancelled"))
	}

	// Aggregating: one synchronous pass over the full outcome set.
	p.transition(ctx, run, log, model.RunStateAggregating)
	run.Confidence = Aggregate(&run.Invoice, run.Outcomes, p.aggCfg)

	run.Decision = Route(run.Confidence, p.routeCfg)
	p.transition(ctx, run, log, model.RunStateRouted)
	log.Info("pipeline: routed",
		zap.String("decision", string(run.Decision.Decision)),
		zap.Float64("score", run.Confidence.OverallScore),
		zap.Int("unresolved", len(run.Confidence.Unresolved)),
	)

	// Finalizing must run to completion once begun: external writes may no
	// longer be abandoned mid-flight.
	p.transition(ctx, run, log, model.RunStateFinalizing)
	finCtx := context.WithoutCancel(ctx)

	switch run.Decision.Decision {
	case model.DecisionProceed:
		if err := p.finalizeProceed(finCtx, run, log); err != nil {
			return p.fail(finCtx, run, log, err)
		}
	case model.DecisionReject:
		run.Report = RejectionReport(&run.Invoice, run.Confidence)
	case model.DecisionManualReview:
		run.Report = ReviewReport(&run.Invoice, run.Confidence)
	}

	run.State = model.RunStateCompleted
	if err := p.store.FinishRun(finCtx, run); err != nil {
		log.Error("pipeline: failed to persist terminal run", zap.Error(err))
	}
	log.Info("pipeline: run completed",
		zap.String("decision", string(run.Decision.Decision)),
		zap.String("report", string(run.Report.Kind)),
	)

	p.maybeNotify(finCtx, run, log)
	return run, nil
}

// finalizeProceed posts the invoice to the reference system exactly once per
// run, keyed for idempotency. An authoritative business rejection overrides
// the pipeline's own verdict to Reject; an unreachable reference system
// after retries is an unrecoverable infrastructure error.
func (p *Pipeline) finalizeProceed(ctx context.Context, run *model.PipelineRun, log *zap.Logger) error {
	result, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*erp.CreateInvoiceResult, error) {
		return p.erp.CreateInvoice(ctx, createRequest(&run.Invoice), run.IdempotencyKey())
	})
	if err != nil {
		if rej, ok := erp.AsRejection(err); ok {
			// The reference system's own validation outranks our pre-check.
			log.Warn("pipeline: reference system rejected creation",
				zap.String("code", rej.Code),
				zap.String("message", rej.Message),
			)
			run.Decision = &model.RoutingDecision{
				Decision: model.DecisionReject,
				Reasons:  []string{"reference system rejected creation: " + rej.Message},
			}
			run.Report = RejectionReport(&run.Invoice, run.Confidence, model.ReportFailure{
				Field:  "invoice",
				Reason: rej.Message,
			})
			return nil
		}
		return eris.Wrap(err, "pipeline: record creation failed")
	}

	if result.Replayed {
		log.Info("pipeline: creation replayed by idempotency key",
			zap.String("record_id", result.InvoiceID),
		)
	}
	run.Report = AcceptanceReport(&run.Invoice, result.InvoiceID)
	return nil
}

// fail moves the run to the terminal Failed state. Failed runs still
// produce an auditable report and are persisted, but never notify.
func (p *Pipeline) fail(ctx context.Context, run *model.PipelineRun, log *zap.Logger, cause error) (*model.PipelineRun, error) {
	log.Error("pipeline: run failed", zap.Error(cause))

	run.State = model.RunStateFailed
	run.Error = cause.Error()
	run.Report = FailureReport(&run.Invoice, cause.Error())

	if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("pipeline: failed to persist failed run", zap.Error(err))
	}
	return run, cause
}

// maybeNotify fires the user notification for runs that need attention:
// exactly once per run ending in Reject or ManualReview, never for Proceed.
func (p *Pipeline) maybeNotify(ctx context.Context, run *model.PipelineRun, log *zap.Logger) {
	if run.Decision == nil {
		return
	}
	switch run.Decision.Decision {
	case model.DecisionReject, model.DecisionManualReview:
	default:
		return
	}

	if err := p.notifier.NotifyOutcome(ctx, run); err != nil {
		log.Error("pipeline: notification delivery failed", zap.Error(err))
	}
}

// transition advances the in-memory state and mirrors it to the store.
// Persistence hiccups on intermediate states are logged, not fatal.
func (p *Pipeline) transition(ctx context.Context, run *model.PipelineRun, log *zap.Logger, state model.RunState) {
	run.State = state
	run.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateRunState(ctx, run.ID, state); err != nil {
		log.Warn("pipeline: failed to persist state",
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

func createRequest(inv *model.ExtractedInvoice) *erp.CreateInvoiceRequest {
	value := func(f *model.FieldValue) string {
		if f == nil {
			return ""
		}
		return f.Value
	}

	items := make([]erp.LineItem, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		items = append(items, erp.LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		})
	}

	return &erp.CreateInvoiceRequest{
		SupplierName:  value(inv.SupplierName),
		TaxID:         value(inv.TaxID),
		NationalID:    value(inv.NationalID),
		PurchaseOrder: value(inv.PurchaseOrder),
		InvoiceNumber: value(inv.InvoiceNumber),
		InvoiceDate:   value(inv.InvoiceDate),
		Currency:      inv.Currency,
		TotalNet:      inv.TotalNet,
		TaxAmount:     inv.TaxAmount,
		TotalGross:    inv.TotalGross,
		LineItems:     items,
	}
}
