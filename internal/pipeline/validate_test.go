package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apflow/internal/model"
	"github.com/sells-group/apflow/internal/resilience"
	"github.com/sells-group/apflow/pkg/erp"
)

// fastRetry keeps test backoff in the microsecond range.
func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1.0,
	}
}

func TestRunChecksAllApplicable(t *testing.T) {
	client := newMockClient()
	inv := fullInvoice(0.9)

	outcomes := RunChecks(context.Background(), client, inv, fastRetry())

	require.Len(t, outcomes, 4)
	// Stable order regardless of goroutine completion order.
	for i, kind := range model.AllCheckKinds {
		assert.Equal(t, kind, outcomes[i].Kind)
		assert.Equal(t, model.ResultMatch, outcomes[i].Result)
	}
	assert.Equal(t, 4, client.totalCheckCalls())
}

func TestRunChecksSkipsAbsentFields(t *testing.T) {
	client := newMockClient()
	inv := fullInvoice(0.9)
	inv.PurchaseOrder = nil
	inv.BIC = nil // bank check needs both IBAN and BIC

	outcomes := RunChecks(context.Background(), client, inv, fastRetry())

	require.Len(t, outcomes, 2)
	assert.Equal(t, model.CheckTaxID, outcomes[0].Kind)
	assert.Equal(t, model.CheckNationalID, outcomes[1].Kind)
	assert.Zero(t, client.calls[model.CheckBank])
	assert.Zero(t, client.calls[model.CheckPurchaseOrder])
}

func TestRunChecksMismatchCarriesCanonicalValue(t *testing.T) {
	client := newMockClient()
	client.replies[model.CheckTaxID] = mismatch("FR99888777666")
	inv := fullInvoice(0.9)

	outcomes := RunChecks(context.Background(), client, inv, fastRetry())

	require.Len(t, outcomes, 4)
	assert.Equal(t, model.ResultMismatch, outcomes[0].Result)
	assert.Equal(t, "FR99888777666", outcomes[0].CorrectedValue)
}

func TestRunChecksToolErrorAfterRetries(t *testing.T) {
	client := newMockClient()
	client.replies[model.CheckBank] = unavailable()
	inv := fullInvoice(0.9)

	outcomes := RunChecks(context.Background(), client, inv, fastRetry())

	require.Len(t, outcomes, 4)
	bank := outcomes[2]
	assert.Equal(t, model.CheckBank, bank.Kind)
	assert.Equal(t, model.ResultToolError, bank.Result)
	assert.NotEmpty(t, bank.Message)
	// 1 initial attempt + 2 retries, then the check settles as an error.
	assert.Equal(t, 3, client.calls[model.CheckBank])
	// A failing check never disturbs its siblings.
	assert.Equal(t, model.ResultMatch, outcomes[0].Result)
	assert.Equal(t, model.ResultMatch, outcomes[1].Result)
	assert.Equal(t, model.ResultMatch, outcomes[3].Result)
}

func TestRunChecksProtocolErrorNotRetried(t *testing.T) {
	client := newMockClient()
	client.replies[model.CheckNationalID] = checkReply{
		err: &erp.ToolFailure{Kind: erp.FailureProtocol, Op: "check national id", Err: assert.AnError},
	}
	inv := fullInvoice(0.9)

	outcomes := RunChecks(context.Background(), client, inv, fastRetry())

	require.Len(t, outcomes, 4)
	assert.Equal(t, model.ResultToolError, outcomes[1].Result)
	assert.Equal(t, 1, client.calls[model.CheckNationalID])
}

func TestRunChecksAlwaysSettled(t *testing.T) {
	// Even with every dependency down the joined set is complete: no
	// partial outcome set ever reaches aggregation.
	client := newMockClient()
	for _, kind := range model.AllCheckKinds {
		client.replies[kind] = unavailable()
	}
	inv := fullInvoice(0.9)

	outcomes := RunChecks(context.Background(), client, inv, fastRetry())

	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.Equal(t, model.ResultToolError, o.Result)
	}
}

func TestRunChecksConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func() (*erp.CheckResponse, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &erp.CheckResponse{Status: erp.StatusMatch}, nil
	}

	fc := &funcClient{check: slow}
	outcomes := RunChecks(context.Background(), fc, fullInvoice(0.9), fastRetry())

	require.Len(t, outcomes, 4)
	assert.Greater(t, peak.Load(), int32(1), "checks should overlap")
}

// funcClient routes every check through one function, for concurrency tests.
type funcClient struct {
	check func() (*erp.CheckResponse, error)
}

func (f *funcClient) CheckTaxID(ctx context.Context, value, hint string) (*erp.CheckResponse, error) {
	return f.check()
}

func (f *funcClient) CheckNationalID(ctx context.Context, value string) (*erp.CheckResponse, error) {
	return f.check()
}

func (f *funcClient) CheckBank(ctx context.Context, iban, bic, hint string) (*erp.CheckResponse, error) {
	return f.check()
}

func (f *funcClient) CheckPurchaseOrder(ctx context.Context, reference string) (*erp.CheckResponse, error) {
	return f.check()
}

func (f *funcClient) LookupSupplier(ctx context.Context, name string) ([]erp.SupplierCandidate, error) {
	return nil, nil
}

func (f *funcClient) CreateInvoice(ctx context.Context, req *erp.CreateInvoiceRequest, key string) (*erp.CreateInvoiceResult, error) {
	return &erp.CreateInvoiceResult{InvoiceID: "ERP-INV-1"}, nil
}
