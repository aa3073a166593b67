package refserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/apflow/pkg/erp"
)

// Server exposes the reference-data checks and invoice creation over HTTP.
type Server struct {
	store  *Store
	router chi.Router
}

// New builds the stub server around an open store.
func New(store *Store) *Server {
	s := &Server{store: store}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/checks/tax-id", s.handleCheckTaxID)
	r.Post("/checks/national-id", s.handleCheckNationalID)
	r.Post("/checks/bank", s.handleCheckBank)
	r.Post("/checks/purchase-order", s.handleCheckPurchaseOrder)
	r.Post("/suppliers/search", s.handleSupplierSearch)
	r.Post("/invoices", s.handleCreateInvoice)

	s.router = r
	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("refserver: write response", zap.Error(err))
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckTaxID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value        string `json:"value"`
		SupplierHint string `json:"supplier_hint"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	value := normalizeTaxID(req.Value)
	sup, err := s.store.SupplierByTaxID(r.Context(), value)
	if err != nil {
		s.internalError(w, "check tax id", err)
		return
	}
	if sup != nil {
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:  erp.StatusMatch,
			Message: fmt.Sprintf("tax id %s is registered to %s", value, sup.Name),
		})
		return
	}

	// Unknown value: if the named supplier exists, answer with its
	// registered identifier so the caller can suggest a correction.
	if hinted := s.hintedSupplier(r, req.SupplierHint); hinted != nil {
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:         erp.StatusMismatch,
			CanonicalValue: hinted.TaxID,
			Message:        fmt.Sprintf("tax id %s does not match the one registered for %s", value, hinted.Name),
		})
		return
	}

	writeJSON(w, http.StatusOK, erp.CheckResponse{
		Status:  erp.StatusNotFound,
		Message: fmt.Sprintf("tax id %s not found in supplier master data", value),
	})
}

func (s *Server) handleCheckNationalID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	value := strings.TrimSpace(req.Value)
	sup, err := s.store.SupplierByNationalID(r.Context(), value)
	if err != nil {
		s.internalError(w, "check national id", err)
		return
	}
	if sup != nil {
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:  erp.StatusMatch,
			Message: fmt.Sprintf("national id %s is valid for %s", value, sup.Name),
		})
		return
	}
	writeJSON(w, http.StatusOK, erp.CheckResponse{
		Status:  erp.StatusNotFound,
		Message: fmt.Sprintf("national id %s not found in supplier master data", value),
	})
}

func (s *Server) handleCheckBank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IBAN         string `json:"iban"`
		BIC          string `json:"bic"`
		SupplierHint string `json:"supplier_hint"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	iban := normalizeIBAN(req.IBAN)
	bic := strings.ToUpper(strings.TrimSpace(req.BIC))
	sup, err := s.store.SupplierByBank(r.Context(), iban, bic)
	if err != nil {
		s.internalError(w, "check bank", err)
		return
	}
	if sup != nil {
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:  erp.StatusMatch,
			Message: fmt.Sprintf("bank details match supplier %s", sup.Name),
		})
		return
	}

	if hinted := s.hintedSupplier(r, req.SupplierHint); hinted != nil {
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:         erp.StatusMismatch,
			CanonicalValue: hinted.IBAN,
			Message:        fmt.Sprintf("bank details do not match the account on record for %s", hinted.Name),
		})
		return
	}

	writeJSON(w, http.StatusOK, erp.CheckResponse{
		Status:  erp.StatusNotFound,
		Message: "IBAN/BIC combination not found in supplier bank records",
	})
}

func (s *Server) handleCheckPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	ref := strings.TrimSpace(req.Reference)
	po, err := s.store.FindPurchaseOrder(r.Context(), ref)
	if err != nil {
		s.internalError(w, "check purchase order", err)
		return
	}
	if po == nil {
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:  erp.StatusNotFound,
			Message: fmt.Sprintf("purchase order %s not found", ref),
		})
		return
	}
	if !po.Receivable() {
		// Exists but cannot receive invoices: a definitive failure, not a
		// missing record.
		writeJSON(w, http.StatusOK, erp.CheckResponse{
			Status:  erp.StatusMismatch,
			Message: fmt.Sprintf("purchase order %s is %q and cannot receive invoices", ref, po.Status),
		})
		return
	}
	writeJSON(w, http.StatusOK, erp.CheckResponse{
		Status:  erp.StatusMatch,
		Message: fmt.Sprintf("purchase order %s is %s (%.2f %s)", ref, po.Status, po.TotalAmount, po.Currency),
	})
}

func (s *Server) handleSupplierSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	suppliers, err := s.store.SearchSuppliers(r.Context(), req.Name)
	if err != nil {
		s.internalError(w, "supplier search", err)
		return
	}

	candidates := make([]erp.SupplierCandidate, 0, len(suppliers))
	for _, sup := range suppliers {
		candidates = append(candidates, erp.SupplierCandidate{
			ID:         fmt.Sprintf("%d", sup.ID),
			Name:       sup.Name,
			TaxID:      sup.TaxID,
			NationalID: sup.NationalID,
			Active:     sup.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Idempotency-Key header is required"})
		return
	}

	var req erp.CreateInvoiceRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	// Replays return the original identifier with 200 (vs 201 on create).
	if existing, err := s.store.InvoiceIDByKey(ctx, key); err != nil {
		s.internalError(w, "create invoice", err)
		return
	} else if existing != "" {
		writeJSON(w, http.StatusOK, erp.CreateInvoiceResult{InvoiceID: existing, Replayed: true})
		return
	}

	sup, err := s.store.SupplierByTaxID(ctx, normalizeTaxID(req.TaxID))
	if err != nil {
		s.internalError(w, "create invoice", err)
		return
	}
	if sup == nil {
		s.reject(w, "unknown_supplier",
			fmt.Sprintf("no active supplier with tax id %s", req.TaxID))
		return
	}

	po, err := s.store.FindPurchaseOrder(ctx, strings.TrimSpace(req.PurchaseOrder))
	if err != nil {
		s.internalError(w, "create invoice", err)
		return
	}
	if po == nil {
		s.reject(w, "unknown_purchase_order",
			fmt.Sprintf("purchase order %s not found", req.PurchaseOrder))
		return
	}
	if !po.Receivable() {
		s.reject(w, "purchase_order_not_receivable",
			fmt.Sprintf("purchase order %s is %q and cannot receive invoices", po.Number, po.Status))
		return
	}

	dup, err := s.store.HasInvoiceNumber(ctx, sup.ID, req.InvoiceNumber)
	if err != nil {
		s.internalError(w, "create invoice", err)
		return
	}
	if dup {
		s.reject(w, "duplicate_invoice",
			fmt.Sprintf("invoice number %s already recorded for supplier %s", req.InvoiceNumber, sup.Name))
		return
	}

	id, err := s.store.CreateInvoice(ctx, &Invoice{
		SupplierID:     sup.ID,
		PurchaseOrder:  po.Number,
		InvoiceNumber:  req.InvoiceNumber,
		InvoiceDate:    req.InvoiceDate,
		TotalNet:       req.TotalNet,
		TaxAmount:      req.TaxAmount,
		TotalGross:     req.TotalGross,
		Currency:       req.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		s.internalError(w, "create invoice", err)
		return
	}

	zap.L().Info("refserver: invoice posted",
		zap.String("erp_invoice_id", id),
		zap.String("invoice_number", req.InvoiceNumber),
		zap.String("supplier", sup.Name),
	)
	writeJSON(w, http.StatusCreated, erp.CreateInvoiceResult{InvoiceID: id})
}

// hintedSupplier resolves a supplier-name hint to at most one supplier. An
// ambiguous hint (multiple candidates) resolves to none: a canonical value
// must never be guessed.
func (s *Server) hintedSupplier(r *http.Request, hint string) *Supplier {
	if strings.TrimSpace(hint) == "" {
		return nil
	}
	suppliers, err := s.store.SearchSuppliers(r.Context(), hint)
	if err != nil || len(suppliers) != 1 {
		return nil
	}
	return &suppliers[0]
}

func (s *Server) reject(w http.ResponseWriter, code, message string) {
	writeJSON(w, http.StatusConflict, erp.CreateRejection{Code: code, Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("refserver: "+op, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
