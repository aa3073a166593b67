package pipeline

import "github.com/sells-group/apflow/internal/model"

// rejectionRecommendation mirrors the guidance accounts-payable attaches to
// every rejection sent back to the submitter.
const rejectionRecommendation = "Please verify the failed fields with the supplier and update " +
	"reference master data if needed before resubmitting the invoice."

func invoiceIdentity(inv *model.ExtractedInvoice) (number, supplier string) {
	number, supplier = "unknown", "unknown"
	if inv.InvoiceNumber != nil && inv.InvoiceNumber.Value != "" {
		number = inv.InvoiceNumber.Value
	}
	if inv.SupplierName != nil && inv.SupplierName.Value != "" {
		supplier = inv.SupplierName.Value
	}
	return number, supplier
}

// AcceptanceReport is the terminal report for an accepted invoice.
func AcceptanceReport(inv *model.ExtractedInvoice, recordID string) *model.Report {
	number, supplier := invoiceIdentity(inv)
	return &model.Report{
		Kind:            model.ReportAccepted,
		InvoiceNumber:   number,
		SupplierName:    supplier,
		CreatedRecordID: recordID,
	}
}

// RejectionReport names every definitively failed field and why.
func RejectionReport(inv *model.ExtractedInvoice, conf *model.AggregatedConfidence, extraFailures ...model.ReportFailure) *model.Report {
	number, supplier := invoiceIdentity(inv)
	report := &model.Report{
		Kind:           model.ReportRejected,
		InvoiceNumber:  number,
		SupplierName:   supplier,
		Recommendation: rejectionRecommendation,
	}
	if conf != nil {
		report.Failures = failedVerdicts(conf)
	}
	report.Failures = append(report.Failures, extraFailures...)
	return report
}

// ReviewReport names failed fields plus every unresolved check so a human
// reviewer knows exactly what could not be verified.
func ReviewReport(inv *model.ExtractedInvoice, conf *model.AggregatedConfidence) *model.Report {
	number, supplier := invoiceIdentity(inv)
	return &model.Report{
		Kind:          model.ReportReview,
		InvoiceNumber: number,
		SupplierName:  supplier,
		Failures:      failedVerdicts(conf),
		Unresolved:    conf.Unresolved,
	}
}

// FailureReport is the auditable report a run that reached Failed produces.
func FailureReport(inv *model.ExtractedInvoice, cause string) *model.Report {
	number, supplier := invoiceIdentity(inv)
	return &model.Report{
		Kind:          model.ReportFailed,
		InvoiceNumber: number,
		SupplierName:  supplier,
		Error:         cause,
	}
}

func failedVerdicts(conf *model.AggregatedConfidence) []model.ReportFailure {
	var failures []model.ReportFailure
	for _, v := range conf.Verdicts {
		if v.Passed || !v.Result.DefinitiveFailure() {
			continue
		}
		failures = append(failures, model.ReportFailure{
			Field:          string(v.Kind),
			Reason:         v.Reason,
			SuggestedValue: v.SuggestedValue,
		})
	}
	return failures
}
