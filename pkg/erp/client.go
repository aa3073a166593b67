// Package erp is a typed client for the reference-data (ERP) verification
// tools. Each verification is a pure request/response call; the only
// operation with an externally visible write effect is CreateInvoice.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the reference-data operations the pipeline uses.
type Client interface {
	// CheckTaxID verifies a tax identifier against supplier master data.
	CheckTaxID(ctx context.Context, value, supplierHint string) (*CheckResponse, error)

	// CheckNationalID verifies a national business identifier.
	CheckNationalID(ctx context.Context, value string) (*CheckResponse, error)

	// CheckBank verifies bank account ownership (IBAN + BIC).
	CheckBank(ctx context.Context, iban, bic, supplierHint string) (*CheckResponse, error)

	// CheckPurchaseOrder verifies a PO exists and is receivable.
	CheckPurchaseOrder(ctx context.Context, reference string) (*CheckResponse, error)

	// LookupSupplier searches supplier master data by name. Used upstream as
	// a fallback hint, not by the validation core.
	LookupSupplier(ctx context.Context, name string) ([]SupplierCandidate, error)

	// CreateInvoice posts the invoice to the reference system. The
	// idempotency key makes a retried call return the previously created
	// identifier instead of creating a duplicate. A business rejection is
	// returned as a *CreateRejection error.
	CreateInvoice(ctx context.Context, req *CreateInvoiceRequest, idempotencyKey string) (*CreateInvoiceResult, error)
}

// ClientOption configures the ERP client.
type ClientOption func(*httpClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = h
	}
}

// WithRateLimit overrides the default request rate (10 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an ERP client for the given base URL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

const maxResponseBytes = 1 << 20

// post issues one JSON request and returns the status code and raw body.
// Transport-level failures are mapped onto the ToolFailure taxonomy; status
// code interpretation is left to the caller.
func (c *httpClient) post(ctx context.Context, op, path string, body any, header http.Header) (int, []byte, error) {
	if err := c.wait(ctx); err != nil {
		return 0, nil, &ToolFailure{Kind: FailureUnavailable, Op: op, Err: eris.Wrap(err, "rate limit")}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "erp: marshal %s request", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, eris.Wrapf(err, "erp: build %s request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &ToolFailure{Kind: failureKindFor(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &ToolFailure{Kind: failureKindFor(err), Op: op, Err: err}
	}

	if isTransientStatus(resp.StatusCode) {
		return resp.StatusCode, data, &ToolFailure{
			Kind: FailureUnavailable,
			Op:   op,
			Err:  eris.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200)),
		}
	}

	return resp.StatusCode, data, nil
}

func (c *httpClient) check(ctx context.Context, op, path string, body any) (*CheckResponse, error) {
	status, data, err := c.post(ctx, op, path, body, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, protocolErr(op, "unexpected status %d: %s", status, truncate(data, 200))
	}

	var out CheckResponse
	if err := decodeStrict(data, &out); err != nil {
		return nil, &ToolFailure{Kind: FailureProtocol, Op: op, Err: err}
	}
	switch out.Status {
	case StatusMatch, StatusMismatch, StatusNotFound:
	default:
		return nil, protocolErr(op, "unknown check status %q", out.Status)
	}
	return &out, nil
}

func (c *httpClient) CheckTaxID(ctx context.Context, value, supplierHint string) (*CheckResponse, error) {
	return c.check(ctx, "check_tax_id", "/checks/tax-id", map[string]string{
		"value":         value,
		"supplier_hint": supplierHint,
	})
}

func (c *httpClient) CheckNationalID(ctx context.Context, value string) (*CheckResponse, error) {
	return c.check(ctx, "check_national_id", "/checks/national-id", map[string]string{
		"value": value,
	})
}

func (c *httpClient) CheckBank(ctx context.Context, iban, bic, supplierHint string) (*CheckResponse, error) {
	return c.check(ctx, "check_bank", "/checks/bank", map[string]string{
		"iban":          iban,
		"bic":           bic,
		"supplier_hint": supplierHint,
	})
}

func (c *httpClient) CheckPurchaseOrder(ctx context.Context, reference string) (*CheckResponse, error) {
	return c.check(ctx, "check_purchase_order", "/checks/purchase-order", map[string]string{
		"reference": reference,
	})
}

func (c *httpClient) LookupSupplier(ctx context.Context, name string) ([]SupplierCandidate, error) {
	const op = "lookup_supplier"
	status, data, err := c.post(ctx, op, "/suppliers/search", map[string]string{"name": name}, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, protocolErr(op, "unexpected status %d: %s", status, truncate(data, 200))
	}

	var out struct {
		Candidates []SupplierCandidate `json:"candidates"`
	}
	if err := decodeStrict(data, &out); err != nil {
		return nil, &ToolFailure{Kind: FailureProtocol, Op: op, Err: err}
	}
	return out.Candidates, nil
}

func (c *httpClient) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest, idempotencyKey string) (*CreateInvoiceResult, error) {
	const op = "create_invoice"
	if idempotencyKey == "" {
		return nil, eris.New("erp: idempotency key is required")
	}

	header := http.Header{}
	header.Set("Idempotency-Key", idempotencyKey)

	status, data, err := c.post(ctx, op, "/invoices", req, header)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
		var out CreateInvoiceResult
		if err := decodeStrict(data, &out); err != nil {
			return nil, &ToolFailure{Kind: FailureProtocol, Op: op, Err: err}
		}
		if out.InvoiceID == "" {
			return nil, protocolErr(op, "empty invoice_id in response")
		}
		// 200 (vs 201) signals an idempotent replay of an earlier creation.
		out.Replayed = out.Replayed || status == http.StatusOK
		return &out, nil

	case http.StatusConflict, http.StatusUnprocessableEntity:
		var rej CreateRejection
		if err := decodeStrict(data, &rej); err != nil || rej.Code == "" {
			return nil, protocolErr(op, "malformed rejection body (status %d): %s", status, truncate(data, 200))
		}
		return nil, &rej

	default:
		return nil, protocolErr(op, "unexpected status %d: %s", status, truncate(data, 200))
	}
}

// decodeStrict decodes JSON rejecting unknown fields and trailing data.
// Extra fields in a tool response are a protocol error, not something to
// silently ignore.
func decodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	if dec.More() {
		return eris.New("trailing data in response")
	}
	return nil
}

func protocolErr(op, format string, args ...any) error {
	return &ToolFailure{Kind: FailureProtocol, Op: op, Err: eris.Errorf(format, args...)}
}

func failureKindFor(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureUnavailable
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return fmt.Sprintf("%s… (%d bytes)", data[:n], len(data))
}
