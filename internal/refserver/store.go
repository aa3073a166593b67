// Package refserver is the reference-data (ERP) stub: a SQLite-backed
// supplier master with the HTTP endpoints the pipeline's tool client
// consumes. It exists so the pipeline can run end to end without a real
// ERP system.
package refserver

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Supplier is one row of supplier master data.
type Supplier struct {
	ID         int64  `yaml:"-"`
	Name       string `yaml:"name"`
	TaxID      string `yaml:"tax_id"`
	NationalID string `yaml:"national_id"`
	IBAN       string `yaml:"iban"`
	BIC        string `yaml:"bic"`
	Address    string `yaml:"address"`
	City       string `yaml:"city"`
	Country    string `yaml:"country"`
	Active     bool   `yaml:"active"`
}

// PurchaseOrder is one purchase order. Only orders in a receivable status
// ({open, partially_received}) may receive invoices.
type PurchaseOrder struct {
	Number      string  `yaml:"number"`
	SupplierTax string  `yaml:"supplier_tax_id"`
	Status      string  `yaml:"status"`
	TotalAmount float64 `yaml:"total_amount"`
	Currency    string  `yaml:"currency"`
	CreatedDate string  `yaml:"created_date"`
	Description string  `yaml:"description"`

	supplierID int64
}

// Receivable reports whether the order may still receive invoices.
func (po *PurchaseOrder) Receivable() bool {
	return po.Status == "open" || po.Status == "partially_received"
}

// Invoice is one posted ERP invoice.
type Invoice struct {
	ERPInvoiceID   string
	SupplierID     int64
	PurchaseOrder  string
	InvoiceNumber  string
	InvoiceDate    string
	TotalNet       float64
	TaxAmount      float64
	TotalGross     float64
	Currency       string
	IdempotencyKey string
}

// Store is the stub's SQLite persistence.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the reference database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "refserver: open database")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "refserver: exec %s", pragma)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS suppliers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	tax_id      TEXT NOT NULL UNIQUE,
	national_id TEXT NOT NULL UNIQUE,
	iban        TEXT NOT NULL,
	bic         TEXT NOT NULL,
	address     TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	country     TEXT NOT NULL DEFAULT 'FR',
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS purchase_orders (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	po_number    TEXT NOT NULL UNIQUE,
	supplier_id  INTEGER NOT NULL REFERENCES suppliers(id),
	status       TEXT NOT NULL DEFAULT 'open',
	total_amount REAL NOT NULL,
	currency     TEXT NOT NULL DEFAULT 'EUR',
	created_date TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS erp_invoices (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	erp_invoice_id  TEXT NOT NULL UNIQUE,
	supplier_id     INTEGER NOT NULL REFERENCES suppliers(id),
	po_number       TEXT NOT NULL,
	invoice_number  TEXT NOT NULL,
	invoice_date    TEXT NOT NULL DEFAULT '',
	total_net       REAL NOT NULL,
	tax_amount      REAL NOT NULL,
	total_gross     REAL NOT NULL,
	currency        TEXT NOT NULL DEFAULT 'EUR',
	idempotency_key TEXT NOT NULL UNIQUE,
	created_at      TEXT NOT NULL,
	UNIQUE (supplier_id, invoice_number)
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(migration)
	return eris.Wrap(err, "refserver: migrate")
}

func (s *Store) Close() error {
	return s.db.Close()
}

const supplierColumns = `id, name, tax_id, national_id, iban, bic, address, city, country, active`

func scanSupplier(row *sql.Row) (*Supplier, error) {
	var sup Supplier
	err := row.Scan(&sup.ID, &sup.Name, &sup.TaxID, &sup.NationalID, &sup.IBAN, &sup.BIC,
		&sup.Address, &sup.City, &sup.Country, &sup.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "refserver: scan supplier")
	}
	return &sup, nil
}

// SupplierByTaxID returns the active supplier with the given tax ID, or nil.
func (s *Store) SupplierByTaxID(ctx context.Context, taxID string) (*Supplier, error) {
	return scanSupplier(s.db.QueryRowContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE tax_id = ? AND active = 1`, taxID))
}

// SupplierByNationalID returns the active supplier with the given national
// business identifier, or nil.
func (s *Store) SupplierByNationalID(ctx context.Context, nationalID string) (*Supplier, error) {
	return scanSupplier(s.db.QueryRowContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE national_id = ? AND active = 1`, nationalID))
}

// SupplierByBank returns the active supplier owning the IBAN/BIC pair, or nil.
func (s *Store) SupplierByBank(ctx context.Context, iban, bic string) (*Supplier, error) {
	return scanSupplier(s.db.QueryRowContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE iban = ? AND bic = ? AND active = 1`, iban, bic))
}

// SearchSuppliers returns active suppliers whose normalized name contains
// the normalized query. Matching happens in Go so accented and differently
// cased names compare equal.
func (s *Store) SearchSuppliers(ctx context.Context, name string) ([]Supplier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "refserver: query suppliers")
	}
	defer rows.Close()

	needle := normalizeName(name)
	var out []Supplier
	for rows.Next() {
		var sup Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.TaxID, &sup.NationalID, &sup.IBAN, &sup.BIC,
			&sup.Address, &sup.City, &sup.Country, &sup.Active); err != nil {
			return nil, eris.Wrap(err, "refserver: scan supplier")
		}
		if needle == "" || strings.Contains(normalizeName(sup.Name), needle) {
			out = append(out, sup)
		}
	}
	return out, eris.Wrap(rows.Err(), "refserver: iterate suppliers")
}

// FindPurchaseOrder returns the purchase order with the given number in any
// status, or nil.
func (s *Store) FindPurchaseOrder(ctx context.Context, number string) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.db.QueryRowContext(ctx,
		`SELECT po_number, supplier_id, status, total_amount, currency, created_date, description
		 FROM purchase_orders WHERE po_number = ?`, number).
		Scan(&po.Number, &po.supplierID, &po.Status, &po.TotalAmount, &po.Currency, &po.CreatedDate, &po.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "refserver: scan purchase order")
	}
	return &po, nil
}

// InvoiceIDByKey returns the ERP invoice ID previously created under the
// idempotency key, or "" when the key is unseen.
func (s *Store) InvoiceIDByKey(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT erp_invoice_id FROM erp_invoices WHERE idempotency_key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, eris.Wrap(err, "refserver: lookup idempotency key")
}

// HasInvoiceNumber reports whether the supplier already has an invoice with
// this number posted.
func (s *Store) HasInvoiceNumber(ctx context.Context, supplierID int64, invoiceNumber string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM erp_invoices WHERE supplier_id = ? AND invoice_number = ?`,
		supplierID, invoiceNumber).Scan(&n)
	return n > 0, eris.Wrap(err, "refserver: count invoices")
}

// CreateInvoice posts an invoice and returns the generated ERP identifier.
func (s *Store) CreateInvoice(ctx context.Context, inv *Invoice) (string, error) {
	id := "ERP-INV-" + strings.ToUpper(uuid.New().String()[:8])
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO erp_invoices
		 (erp_invoice_id, supplier_id, po_number, invoice_number, invoice_date,
		  total_net, tax_amount, total_gross, currency, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, inv.SupplierID, inv.PurchaseOrder, inv.InvoiceNumber, inv.InvoiceDate,
		inv.TotalNet, inv.TaxAmount, inv.TotalGross, inv.Currency, inv.IdempotencyKey,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", eris.Wrap(err, "refserver: insert invoice")
	}
	return id, nil
}

// CountSuppliers returns the number of supplier rows, seeded or not.
func (s *Store) CountSuppliers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppliers`).Scan(&n)
	return n, eris.Wrap(err, "refserver: count suppliers")
}

// insertSupplier adds one supplier row, returning its ID.
func (s *Store) insertSupplier(ctx context.Context, sup *Supplier) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (name, tax_id, national_id, iban, bic, address, city, country, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sup.Name, sup.TaxID, sup.NationalID, sup.IBAN, sup.BIC, sup.Address, sup.City, sup.Country, sup.Active)
	if err != nil {
		return 0, eris.Wrapf(err, "refserver: insert supplier %s", sup.Name)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "refserver: supplier id")
}

// insertPurchaseOrder adds one purchase order; the owning supplier is
// resolved by tax ID.
func (s *Store) insertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error {
	sup, err := s.SupplierByTaxID(ctx, po.SupplierTax)
	if err != nil {
		return err
	}
	if sup == nil {
		return eris.Errorf("refserver: purchase order %s references unknown supplier tax id %s", po.Number, po.SupplierTax)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO purchase_orders (po_number, supplier_id, status, total_amount, currency, created_date, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		po.Number, sup.ID, po.Status, po.TotalAmount, po.Currency, po.CreatedDate, po.Description)
	return eris.Wrapf(err, "refserver: insert purchase order %s", po.Number)
}
