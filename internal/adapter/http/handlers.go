package http

import (
	"net/http"

	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/domain/vendor"
	"github.com/finbot-ai/finbot/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Vendors  *service.VendorService
	Invoices *service.InvoiceService
	Chain    *service.ChainService
}

// ---------------------------------------------------------------------------
// Vendors
// ---------------------------------------------------------------------------

func (h *Handlers) RegisterVendor(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[vendor.RegisterRequest](w, r)
	if !ok {
		return
	}
	v, err := h.Vendors.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "vendor not found")
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handlers) ListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.Vendors.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "vendors not found")
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

func (h *Handlers) GetVendor(w http.ResponseWriter, r *http.Request) {
	v, err := h.Vendors.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "vendor not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

// SubmitInvoice records a new invoice for a vendor and immediately runs
// it through the processing chain.
func (h *Handlers) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[invoice.SubmitRequest](w, r)
	if !ok {
		return
	}
	inv, err := h.Invoices.Submit(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "vendor not found")
		return
	}
	outcome, err := h.Chain.Process(r.Context(), inv.ID)
	if err != nil {
		writeDomainError(w, err, "invoice not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"invoice": inv,
		"result":  outcome,
	})
}

func (h *Handlers) ListVendorInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Invoices.ListByVendor(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "vendor not found")
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *Handlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := invoice.Filter{
		Status:   invoice.Status(r.URL.Query().Get("status")),
		VendorID: r.URL.Query().Get("vendor_id"),
	}
	invoices, err := h.Invoices.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "invoices not found")
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ProcessInvoice re-runs the full chain for an already-submitted invoice.
func (h *Handlers) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.Chain.Process(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ValidateInvoice runs just the validation stage as a pre-flight probe,
// leaving invoice state untouched.
func (h *Handlers) ValidateInvoice(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Chain.ValidateOnly(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetCascadeAnalysis returns the persisted chain log and cascade summary
// from the invoice's last processing run.
func (h *Handlers) GetCascadeAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.Invoices.CascadeAnalysis(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no analysis recorded for this invoice")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
