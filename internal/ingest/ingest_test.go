package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{
	"supplier_name": {"value": "ACME Industrie SARL", "confidence": 0.97},
	"invoice_number": {"value": "INV-2025-0042", "confidence": 0.99},
	"invoice_date": {"value": "2025-06-12", "confidence": 0.95},
	"tax_id": {"value": "FR32123456789", "confidence": 0.92},
	"national_id": {"value": "12345678900017", "confidence": 0.9},
	"iban": {"value": "FR7630006000011234567890189", "confidence": 0.93},
	"bic": {"value": "AGRIFRPP", "confidence": 0.91},
	"purchase_order": {"value": "PO-7781", "confidence": 0.88},
	"line_items": [
		{"description": "Industrial valves", "quantity": 10, "unit_price": 85.5}
	],
	"currency": "EUR",
	"total_net": 855.0,
	"tax_amount": 171.0,
	"total_gross": 1026.0
}`

func TestDecodeInvoiceValid(t *testing.T) {
	inv, err := DecodeInvoice([]byte(validPayload))

	require.NoError(t, err)
	require.NotNil(t, inv.SupplierName)
	assert.Equal(t, "ACME Industrie SARL", inv.SupplierName.Value)
	assert.InDelta(t, 0.92, inv.TaxID.Confidence, 1e-9)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Industrial valves", inv.LineItems[0].Description)
	assert.True(t, inv.HasIdentity())
}

func TestDecodeInvoicePartialFields(t *testing.T) {
	inv, err := DecodeInvoice([]byte(`{
		"supplier_name": {"value": "ACME", "confidence": 0.9},
		"invoice_number": {"value": "INV-1", "confidence": 0.9}
	}`))

	require.NoError(t, err)
	assert.Nil(t, inv.TaxID)
	assert.Nil(t, inv.PurchaseOrder)
	assert.True(t, inv.HasIdentity())
}

func TestDecodeInvoiceRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "malformed json",
			payload: `{"supplier_name":`,
		},
		{
			name:    "confidence above one",
			payload: `{"supplier_name": {"value": "ACME", "confidence": 1.2}}`,
		},
		{
			name:    "negative confidence",
			payload: `{"tax_id": {"value": "FR32123456789", "confidence": -0.1}}`,
		},
		{
			name:    "missing confidence",
			payload: `{"supplier_name": {"value": "ACME"}}`,
		},
		{
			name:    "unknown top-level field",
			payload: `{"supplier": {"value": "ACME", "confidence": 0.9}}`,
		},
		{
			name:    "unknown field property",
			payload: `{"supplier_name": {"value": "ACME", "confidence": 0.9, "source": "ocr"}}`,
		},
		{
			name:    "wrong confidence type",
			payload: `{"supplier_name": {"value": "ACME", "confidence": "high"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInvoice([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}
