package model

// FieldValue is one extracted invoice field together with the upstream
// extractor's own confidence in it (0.0-1.0). Absent fields are represented
// by a nil *FieldValue, never by a zero value — the distinction between
// "extracted as empty" and "not extracted" matters to the aggregator.
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// LineItem is a single invoice line. Line items carry no reference-data
// check and never contribute to the confidence denominator.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// ExtractedInvoice is the immutable input to the pipeline, produced by the
// upstream extraction collaborator.
type ExtractedInvoice struct {
	SupplierName  *FieldValue `json:"supplier_name,omitempty"`
	InvoiceNumber *FieldValue `json:"invoice_number,omitempty"`
	InvoiceDate   *FieldValue `json:"invoice_date,omitempty"`
	TaxID         *FieldValue `json:"tax_id,omitempty"`      // EU VAT number
	NationalID    *FieldValue `json:"national_id,omitempty"` // SIRET
	IBAN          *FieldValue `json:"iban,omitempty"`
	BIC           *FieldValue `json:"bic,omitempty"`
	PurchaseOrder *FieldValue `json:"purchase_order,omitempty"`
	LineItems     []LineItem  `json:"line_items,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	TotalNet      float64     `json:"total_net"`
	TaxAmount     float64     `json:"tax_amount"`
	TotalGross    float64     `json:"total_gross"`
}

// SupplierHint returns the extracted supplier name if present, used to
// disambiguate reference-data lookups.
func (inv *ExtractedInvoice) SupplierHint() string {
	if inv.SupplierName == nil {
		return ""
	}
	return inv.SupplierName.Value
}

// HasIdentity reports whether the mandatory identity fields (supplier name
// and invoice number) were extracted. A run without them is malformed and
// must fail before any tool call is issued.
func (inv *ExtractedInvoice) HasIdentity() bool {
	return inv.SupplierName != nil && inv.SupplierName.Value != "" &&
		inv.InvoiceNumber != nil && inv.InvoiceNumber.Value != ""
}
