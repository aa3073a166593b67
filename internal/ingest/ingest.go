// Package ingest validates and decodes submitted invoice payloads before
// they reach the pipeline. Schema validation rejects structurally bad input
// (out-of-range confidences, unknown fields) at the boundary, so the
// pipeline itself only ever sees well-formed invoices.
package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/apflow/internal/model"
)

//go:embed schema.json
var invoiceSchema string

var schema = jsonschema.MustCompileString("invoice/schema.json", invoiceSchema)

// DecodeInvoice validates data against the invoice schema and decodes it.
// The returned error is safe to echo back to the submitter.
func DecodeInvoice(data []byte) (*model.ExtractedInvoice, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "ingest: parse invoice payload")
	}

	if err := schema.Validate(raw); err != nil {
		return nil, eris.Wrap(err, "ingest: invalid invoice payload")
	}

	var inv model.ExtractedInvoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, eris.Wrap(err, "ingest: decode invoice payload")
	}
	return &inv, nil
}
