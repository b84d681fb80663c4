package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finbot-ai/finbot/internal/domain"
	"github.com/finbot-ai/finbot/internal/domain/finconfig"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/domain/vendor"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Vendors ---

const vendorColumns = `id, company_name, contact_person, contact_email, trust_level, created_at`

func scanVendor(row pgx.Row) (vendor.Vendor, error) {
	var v vendor.Vendor
	err := row.Scan(&v.ID, &v.CompanyName, &v.ContactPerson, &v.ContactEmail, &v.TrustLevel, &v.CreatedAt)
	return v, err
}

func (s *Store) CreateVendor(ctx context.Context, req vendor.RegisterRequest) (*vendor.Vendor, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO vendors (company_name, contact_person, contact_email, trust_level)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+vendorColumns,
		req.CompanyName, req.ContactPerson, req.ContactEmail, req.TrustLevel)

	v, err := scanVendor(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("vendor with email %s: %w", req.ContactEmail, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create vendor: %w", err)
	}
	return &v, nil
}

func (s *Store) GetVendor(ctx context.Context, id string) (*vendor.Vendor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id)

	v, err := scanVendor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get vendor %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get vendor %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) ListVendors(ctx context.Context) ([]vendor.Vendor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vendorColumns+` FROM vendors ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []vendor.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// --- Invoices ---

const invoiceColumns = `id, vendor_id, invoice_number, amount, description, invoice_date, due_date,
	status, payment_processed, ai_decision, ai_confidence, analysis, processed_at, created_at`

func scanInvoice(row pgx.Row) (invoice.Invoice, error) {
	var inv invoice.Invoice
	err := row.Scan(&inv.ID, &inv.VendorID, &inv.InvoiceNumber, &inv.Amount, &inv.Description,
		&inv.InvoiceDate, &inv.DueDate, &inv.Status, &inv.PaymentProcessed,
		&inv.AIDecision, &inv.AIConfidence, &inv.Analysis, &inv.ProcessedAt, &inv.CreatedAt)
	return inv, err
}

func (s *Store) CreateInvoice(ctx context.Context, req invoice.SubmitRequest) (*invoice.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO invoices (vendor_id, invoice_number, amount, description, invoice_date, due_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+invoiceColumns,
		req.VendorID, req.InvoiceNumber, req.Amount, req.Description, req.InvoiceDate, req.DueDate)

	inv, err := scanInvoice(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("invoice number %s: %w", req.InvoiceNumber, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return &inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get invoice %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	return &inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, filter invoice.Filter) ([]invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		query += fmt.Sprintf(" AND vendor_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, id string, status invoice.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update invoice %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update invoice %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, id string, out invoice.Outcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices
		 SET status = $2, payment_processed = $3, ai_decision = $4, ai_confidence = $5,
		     analysis = $6, processed_at = $7
		 WHERE id = $1`,
		id, out.Status, out.PaymentProcessed, out.AIDecision, out.AIConfidence,
		out.Analysis, out.ProcessedAt)
	if err != nil {
		return fmt.Errorf("record outcome for invoice %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record outcome for invoice %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Approval configuration ---

func (s *Store) GetOrCreateConfig(ctx context.Context) (*finconfig.Config, error) {
	def := finconfig.Default()

	// Single-row table; insert the default on first use.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO finbot_config (id, auto_approve_threshold, manual_review_threshold, speed_priority)
		 VALUES (TRUE, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET id = finbot_config.id
		 RETURNING auto_approve_threshold, manual_review_threshold, speed_priority`,
		def.AutoApproveThreshold, def.ManualReviewThreshold, def.SpeedPriority)

	var cfg finconfig.Config
	if err := row.Scan(&cfg.AutoApproveThreshold, &cfg.ManualReviewThreshold, &cfg.SpeedPriority); err != nil {
		return nil, fmt.Errorf("get or create finbot config: %w", err)
	}
	return &cfg, nil
}
