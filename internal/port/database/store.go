// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/finbot-ai/finbot/internal/domain/finconfig"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/domain/vendor"
)

// Store is the port interface for persistence. The pipeline core only reads
// vendors and invoices and issues a single outcome write per run.
type Store interface {
	// Vendors
	CreateVendor(ctx context.Context, req vendor.RegisterRequest) (*vendor.Vendor, error)
	GetVendor(ctx context.Context, id string) (*vendor.Vendor, error)
	ListVendors(ctx context.Context) ([]vendor.Vendor, error)

	// Invoices
	CreateInvoice(ctx context.Context, req invoice.SubmitRequest) (*invoice.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, filter invoice.Filter) ([]invoice.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id string, status invoice.Status) error
	RecordOutcome(ctx context.Context, id string, out invoice.Outcome) error

	// Approval configuration
	GetOrCreateConfig(ctx context.Context) (*finconfig.Config, error)
}
