package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apflow/internal/model"
)

func TestAcceptanceReport(t *testing.T) {
	report := AcceptanceReport(fullInvoice(0.95), "ERP-INV-9")

	assert.Equal(t, model.ReportAccepted, report.Kind)
	assert.Equal(t, "INV-2025-0042", report.InvoiceNumber)
	assert.Equal(t, "ACME Industrie SARL", report.SupplierName)
	assert.Equal(t, "ERP-INV-9", report.CreatedRecordID)
}

func TestRejectionReportNamesFailedFields(t *testing.T) {
	inv := fullInvoice(0.9)
	outcomes := withResult(allMatchOutcomes(), model.CheckTaxID, model.ResultMismatch)
	outcomes = withResult(outcomes, model.CheckPurchaseOrder, model.ResultNotFound)
	agg := Aggregate(inv, outcomes, defaultAggConfig())

	report := RejectionReport(inv, agg)

	assert.Equal(t, model.ReportRejected, report.Kind)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "tax_id", report.Failures[0].Field)
	assert.Equal(t, "purchase_order", report.Failures[1].Field)
	assert.NotEmpty(t, report.Recommendation)
}

func TestRejectionReportOmitsConfirmedFields(t *testing.T) {
	// Low extraction confidence fails the per-field threshold, but a field
	// the reference system confirmed must never be listed as a failure.
	inv := fullInvoice(0.5)
	outcomes := withResult(allMatchOutcomes(), model.CheckTaxID, model.ResultMismatch)
	agg := Aggregate(inv, outcomes, defaultAggConfig())

	report := RejectionReport(inv, agg)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "tax_id", report.Failures[0].Field)
}

func TestReviewReportListsUnresolved(t *testing.T) {
	inv := fullInvoice(0.9)
	outcomes := withResult(allMatchOutcomes(), model.CheckBank, model.ResultToolError)
	agg := Aggregate(inv, outcomes, defaultAggConfig())

	report := ReviewReport(inv, agg)

	assert.Equal(t, model.ReportReview, report.Kind)
	assert.Equal(t, []model.CheckKind{model.CheckBank}, report.Unresolved)
	// Tool errors are unresolved, not failed: they must not appear as
	// definitive failures.
	assert.Empty(t, report.Failures)
}

func TestFailureReportUnknownIdentity(t *testing.T) {
	report := FailureReport(&model.ExtractedInvoice{}, "extraction malformed")

	assert.Equal(t, model.ReportFailed, report.Kind)
	assert.Equal(t, "unknown", report.InvoiceNumber)
	assert.Equal(t, "unknown", report.SupplierName)
	assert.Equal(t, "extraction malformed", report.Error)
}
