package refserver

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedData is the YAML shape of a reference-data seed file.
type SeedData struct {
	Suppliers      []Supplier      `yaml:"suppliers"`
	PurchaseOrders []PurchaseOrder `yaml:"purchase_orders"`
}

// Seed populates an empty reference database. A non-empty path loads a YAML
// seed file; otherwise the built-in sample dataset is used. Seeding a
// non-empty database is a no-op, so startup seeding is idempotent.
func Seed(ctx context.Context, store *Store, path string) error {
	n, err := store.CountSuppliers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		zap.L().Debug("refserver: database already seeded", zap.Int("suppliers", n))
		return nil
	}

	data := defaultSeed()
	if path != "" {
		loaded, err := LoadSeedFile(path)
		if err != nil {
			return err
		}
		data = loaded
	}

	for i := range data.Suppliers {
		if _, err := store.insertSupplier(ctx, &data.Suppliers[i]); err != nil {
			return err
		}
	}
	for i := range data.PurchaseOrders {
		if err := store.insertPurchaseOrder(ctx, &data.PurchaseOrders[i]); err != nil {
			return err
		}
	}

	zap.L().Info("refserver: seeded reference data",
		zap.Int("suppliers", len(data.Suppliers)),
		zap.Int("purchase_orders", len(data.PurchaseOrders)),
	)
	return nil
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refserver: read seed file %s", path)
	}
	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, eris.Wrapf(err, "refserver: parse seed file %s", path)
	}
	return &data, nil
}

// defaultSeed is a small realistic French supplier master, enough to run
// the pipeline end to end against the stub.
func defaultSeed() *SeedData {
	return &SeedData{
		Suppliers: []Supplier{
			{
				Name: "TechnoVision SAS", TaxID: "FR82123456789", NationalID: "12345678900014",
				IBAN: "FR7630006000011234567890189", BIC: "BNPAFRPP",
				Address: "15 Rue de la Paix", City: "Paris", Country: "FR", Active: true,
			},
			{
				Name: "Fournitures Dupont SARL", TaxID: "FR55987654321", NationalID: "98765432100028",
				IBAN: "FR7610011000202345678901234", BIC: "PSSTFRPP",
				Address: "42 Avenue des Champs-Élysées", City: "Lyon", Country: "FR", Active: true,
			},
			{
				Name: "LogiServ Europe SA", TaxID: "FR31456789012", NationalID: "45678901200035",
				IBAN: "FR7620041000013456789012345", BIC: "CEPAFRPP",
				Address: "8 Boulevard Haussmann", City: "Marseille", Country: "FR", Active: true,
			},
			{
				Name: "GreenSupply France", TaxID: "FR19234567890", NationalID: "23456789000042",
				IBAN: "FR7630004000034567890123456", BIC: "BNPAFRPP",
				Address: "120 Rue du Commerce", City: "Toulouse", Country: "FR", Active: true,
			},
			{
				Name: "MétalPro Industries", TaxID: "FR67890123456", NationalID: "89012345600019",
				IBAN: "FR7610096000005678901234567", BIC: "CMCIFRPP",
				Address: "5 Impasse des Ateliers", City: "Bordeaux", Country: "FR", Active: true,
			},
		},
		PurchaseOrders: []PurchaseOrder{
			{Number: "PO-2025-001", SupplierTax: "FR82123456789", Status: "open", TotalAmount: 15000, Currency: "EUR", CreatedDate: "2025-01-15", Description: "IT equipment Q1"},
			{Number: "PO-2025-002", SupplierTax: "FR55987654321", Status: "open", TotalAmount: 8500, Currency: "EUR", CreatedDate: "2025-02-01", Description: "Office supplies"},
			{Number: "PO-2025-003", SupplierTax: "FR31456789012", Status: "partially_received", TotalAmount: 32000, Currency: "EUR", CreatedDate: "2025-01-20", Description: "Logistics services"},
			{Number: "PO-2025-004", SupplierTax: "FR19234567890", Status: "open", TotalAmount: 5200, Currency: "EUR", CreatedDate: "2025-02-10", Description: "Eco-friendly packaging"},
			{Number: "PO-2025-005", SupplierTax: "FR67890123456", Status: "closed", TotalAmount: 45000, Currency: "EUR", CreatedDate: "2024-11-05", Description: "Metal fabrication year-end"},
			{Number: "PO-2025-006", SupplierTax: "FR82123456789", Status: "open", TotalAmount: 22000, Currency: "EUR", CreatedDate: "2025-02-18", Description: "Cloud infrastructure setup"},
		},
	}
}
