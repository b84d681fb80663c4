package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finbot-ai/finbot/internal/domain/agentresult"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/port/database"
)

// InvoiceService manages invoice submission and retrieval. All pipeline
// mutations go through ChainService; this service never changes status.
type InvoiceService struct {
	store database.Store
	log   *slog.Logger
}

func NewInvoiceService(store database.Store, log *slog.Logger) *InvoiceService {
	if log == nil {
		log = slog.Default()
	}
	return &InvoiceService{store: store, log: log}
}

// Submit records a new invoice for the given vendor. The vendor must
// already be registered; invoice content is deliberately not judged here.
func (s *InvoiceService) Submit(ctx context.Context, vendorID string, req invoice.SubmitRequest) (*invoice.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetVendor(ctx, vendorID); err != nil {
		return nil, fmt.Errorf("submit invoice: vendor %s: %w", vendorID, err)
	}
	req.VendorID = vendorID

	inv, err := s.store.CreateInvoice(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.log.Info("invoice submitted", "invoice_id", inv.ID, "vendor_id", vendorID, "amount", inv.Amount)
	return inv, nil
}

func (s *InvoiceService) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

func (s *InvoiceService) List(ctx context.Context, filter invoice.Filter) ([]invoice.Invoice, error) {
	return s.store.ListInvoices(ctx, filter)
}

// ListByVendor returns the vendor's invoices, confirming the vendor
// exists so an unknown id yields not-found rather than an empty list.
func (s *InvoiceService) ListByVendor(ctx context.Context, vendorID string) ([]invoice.Invoice, error) {
	if _, err := s.store.GetVendor(ctx, vendorID); err != nil {
		return nil, err
	}
	return s.store.ListInvoices(ctx, invoice.Filter{VendorID: vendorID})
}

// CascadeAnalysis returns the persisted chain log and analysis from the
// invoice's last processing run.
func (s *InvoiceService) CascadeAnalysis(ctx context.Context, id string) (*agentresult.Analysis, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return inv.ParseAnalysis()
}
