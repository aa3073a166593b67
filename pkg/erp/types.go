package erp

// CheckStatus is the reference system's answer for one verification.
type CheckStatus string

const (
	StatusMatch    CheckStatus = "match"
	StatusMismatch CheckStatus = "mismatch"
	StatusNotFound CheckStatus = "not_found"
)

// CheckResponse is the response body shared by all four verification
// endpoints. CanonicalValue carries the reference system's corrected value on
// a mismatch.
type CheckResponse struct {
	Status         CheckStatus `json:"status"`
	CanonicalValue string      `json:"canonical_value,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// SupplierCandidate is one entity-lookup hit, used upstream to suggest
// candidate suppliers for an ambiguous name.
type SupplierCandidate struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TaxID      string `json:"tax_id,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	Active     bool   `json:"active"`
}

// LineItem mirrors one invoice line in the creation payload.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// CreateInvoiceRequest is the record-creation payload.
type CreateInvoiceRequest struct {
	SupplierName  string     `json:"supplier_name"`
	TaxID         string     `json:"tax_id"`
	NationalID    string     `json:"national_id,omitempty"`
	PurchaseOrder string     `json:"purchase_order"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	TotalNet      float64    `json:"total_net"`
	TaxAmount     float64    `json:"tax_amount"`
	TotalGross    float64    `json:"total_gross"`
	LineItems     []LineItem `json:"line_items,omitempty"`
}

// CreateInvoiceResult is the successful creation outcome. Replayed is true
// when the reference system deduplicated on the idempotency key and returned
// the previously created identifier.
type CreateInvoiceResult struct {
	InvoiceID string `json:"invoice_id"`
	Replayed  bool   `json:"replayed,omitempty"`
}
