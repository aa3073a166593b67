package refserver

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apflow/pkg/erp"
)

// newSeededClient starts the stub on a test server and returns a real tool
// client pointed at it, so these tests double as a contract check between
// pkg/erp and the server.
func newSeededClient(t *testing.T) erp.Client {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "erp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, Seed(context.Background(), store, ""))

	srv := httptest.NewServer(New(store).Handler())
	t.Cleanup(srv.Close)

	return erp.NewClient(srv.URL, "")
}

func TestCheckTaxID(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	t.Run("match", func(t *testing.T) {
		resp, err := client.CheckTaxID(ctx, "FR82123456789", "")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMatch, resp.Status)
		assert.Contains(t, resp.Message, "TechnoVision")
	})

	t.Run("normalizes case and spacing", func(t *testing.T) {
		resp, err := client.CheckTaxID(ctx, " fr82 123 456 789 ", "")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMatch, resp.Status)
	})

	t.Run("mismatch with supplier hint", func(t *testing.T) {
		resp, err := client.CheckTaxID(ctx, "FR00000000000", "TechnoVision")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMismatch, resp.Status)
		assert.Equal(t, "FR82123456789", resp.CanonicalValue)
	})

	t.Run("not found without hint", func(t *testing.T) {
		resp, err := client.CheckTaxID(ctx, "FR00000000000", "")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusNotFound, resp.Status)
	})
}

func TestCheckNationalID(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	resp, err := client.CheckNationalID(ctx, "12345678900014")
	require.NoError(t, err)
	assert.Equal(t, erp.StatusMatch, resp.Status)

	resp, err = client.CheckNationalID(ctx, "00000000000000")
	require.NoError(t, err)
	assert.Equal(t, erp.StatusNotFound, resp.Status)
}

func TestCheckBank(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	t.Run("match with display grouping", func(t *testing.T) {
		resp, err := client.CheckBank(ctx, "fr76 3000 6000 0112 3456 7890 189", "bnpafrpp", "")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMatch, resp.Status)
	})

	t.Run("mismatch suggests account on record", func(t *testing.T) {
		resp, err := client.CheckBank(ctx, "FR7699999999999999999999999", "BNPAFRPP", "GreenSupply")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMismatch, resp.Status)
		assert.Equal(t, "FR7630004000034567890123456", resp.CanonicalValue)
	})

	t.Run("not found", func(t *testing.T) {
		resp, err := client.CheckBank(ctx, "FR7699999999999999999999999", "XXXXFRPP", "")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusNotFound, resp.Status)
	})
}

func TestCheckPurchaseOrder(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	t.Run("open order matches", func(t *testing.T) {
		resp, err := client.CheckPurchaseOrder(ctx, "PO-2025-001")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMatch, resp.Status)
	})

	t.Run("partially received is receivable", func(t *testing.T) {
		resp, err := client.CheckPurchaseOrder(ctx, "PO-2025-003")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMatch, resp.Status)
	})

	t.Run("closed order cannot receive invoices", func(t *testing.T) {
		resp, err := client.CheckPurchaseOrder(ctx, "PO-2025-005")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusMismatch, resp.Status)
		assert.Contains(t, resp.Message, "cannot receive invoices")
	})

	t.Run("unknown order", func(t *testing.T) {
		resp, err := client.CheckPurchaseOrder(ctx, "PO-1999-999")
		require.NoError(t, err)
		assert.Equal(t, erp.StatusNotFound, resp.Status)
	})
}

func TestLookupSupplier(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	t.Run("case and accent folding", func(t *testing.T) {
		candidates, err := client.LookupSupplier(ctx, "MÉTALPRO")
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "MétalPro Industries", candidates[0].Name)
		assert.Equal(t, "FR67890123456", candidates[0].TaxID)
	})

	t.Run("no match", func(t *testing.T) {
		candidates, err := client.LookupSupplier(ctx, "Nonexistent Corp")
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func createReq(number string) *erp.CreateInvoiceRequest {
	return &erp.CreateInvoiceRequest{
		SupplierName:  "TechnoVision SAS",
		TaxID:         "FR82123456789",
		NationalID:    "12345678900014",
		PurchaseOrder: "PO-2025-001",
		InvoiceNumber: number,
		InvoiceDate:   "2025-06-12",
		Currency:      "EUR",
		TotalNet:      1000,
		TaxAmount:     200,
		TotalGross:    1200,
	}
}

func TestCreateInvoice(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	t.Run("creates then replays on same key", func(t *testing.T) {
		first, err := client.CreateInvoice(ctx, createReq("INV-100"), "run-aaa")
		require.NoError(t, err)
		assert.NotEmpty(t, first.InvoiceID)
		assert.False(t, first.Replayed)

		second, err := client.CreateInvoice(ctx, createReq("INV-100"), "run-aaa")
		require.NoError(t, err)
		assert.Equal(t, first.InvoiceID, second.InvoiceID)
		assert.True(t, second.Replayed)
	})

	t.Run("duplicate invoice number rejected", func(t *testing.T) {
		_, err := client.CreateInvoice(ctx, createReq("INV-100"), "run-bbb")
		require.Error(t, err)
		rej, ok := erp.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, "duplicate_invoice", rej.Code)
	})

	t.Run("unknown supplier rejected", func(t *testing.T) {
		req := createReq("INV-101")
		req.TaxID = "FR00000000000"
		_, err := client.CreateInvoice(ctx, req, "run-ccc")
		rej, ok := erp.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, "unknown_supplier", rej.Code)
	})

	t.Run("unreceivable purchase order rejected", func(t *testing.T) {
		req := createReq("INV-102")
		req.TaxID = "FR67890123456"
		req.PurchaseOrder = "PO-2025-005"
		_, err := client.CreateInvoice(ctx, req, "run-ddd")
		rej, ok := erp.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, "purchase_order_not_receivable", rej.Code)
	})

	t.Run("unknown purchase order rejected", func(t *testing.T) {
		req := createReq("INV-103")
		req.PurchaseOrder = "PO-1999-999"
		_, err := client.CreateInvoice(ctx, req, "run-eee")
		rej, ok := erp.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, "unknown_purchase_order", rej.Code)
	})
}

func TestSeedIdempotent(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "erp.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, Seed(ctx, store, ""))
	require.NoError(t, Seed(ctx, store, ""))

	n, err := store.CountSuppliers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
suppliers:
  - name: Test Supplier SA
    tax_id: FR11222333444
    national_id: "11122233300015"
    iban: FR7630006000019999999999999
    bic: BNPAFRPP
    city: Nantes
    country: FR
    active: true
purchase_orders:
  - number: PO-TEST-1
    supplier_tax_id: FR11222333444
    status: open
    total_amount: 100.5
    currency: EUR
    created_date: "2025-03-01"
`), 0o644))

	data, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, data.Suppliers, 1)
	assert.Equal(t, "Test Supplier SA", data.Suppliers[0].Name)
	require.Len(t, data.PurchaseOrders, 1)
	assert.Equal(t, "PO-TEST-1", data.PurchaseOrders[0].Number)

	store, err := OpenStore(filepath.Join(t.TempDir(), "erp.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, Seed(context.Background(), store, path))

	sup, err := store.SupplierByTaxID(context.Background(), "FR11222333444")
	require.NoError(t, err)
	require.NotNil(t, sup)
	assert.Equal(t, "Test Supplier SA", sup.Name)
}
