package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Vendors
		r.Post("/vendors", h.RegisterVendor)
		r.Get("/vendors", h.ListVendors)
		r.Get("/vendors/{id}", h.GetVendor)

		// Invoices (nested under vendors)
		r.Post("/vendors/{id}/invoices", h.SubmitInvoice)
		r.Get("/vendors/{id}/invoices", h.ListVendorInvoices)

		// Invoices (direct access)
		r.Get("/invoices", h.ListInvoices)
		r.Get("/invoices/{id}", h.GetInvoice)
		r.Post("/invoices/{id}/process", h.ProcessInvoice)
		r.Post("/invoices/{id}/validate", h.ValidateInvoice)
		r.Get("/invoices/{id}/cascade-analysis", h.GetCascadeAnalysis)
	})
}
