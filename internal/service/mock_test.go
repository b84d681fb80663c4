package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finbot-ai/finbot/internal/domain"
	"github.com/finbot-ai/finbot/internal/domain/finconfig"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/domain/vendor"
	"github.com/finbot-ai/finbot/internal/port/messagequeue"
	"github.com/finbot-ai/finbot/internal/port/reasoning"
)

type mockStore struct {
	mu           sync.Mutex
	vendors      map[string]vendor.Vendor
	invoices     map[string]invoice.Invoice
	cfg          finconfig.Config
	statusWrites []invoice.Status
	getVendorN   int
	failOutcome  bool
	failStatus   bool
}

func newMockStore() *mockStore {
	return &mockStore{
		vendors:  make(map[string]vendor.Vendor),
		invoices: make(map[string]invoice.Invoice),
		cfg:      finconfig.Default(),
	}
}

func (m *mockStore) CreateVendor(_ context.Context, req vendor.RegisterRequest) (*vendor.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := vendor.Vendor{
		ID:            uuid.NewString(),
		CompanyName:   req.CompanyName,
		ContactPerson: req.ContactPerson,
		ContactEmail:  req.ContactEmail,
		TrustLevel:    req.TrustLevel,
		CreatedAt:     time.Now().UTC(),
	}
	m.vendors[v.ID] = v
	return &v, nil
}

func (m *mockStore) GetVendor(_ context.Context, id string) (*vendor.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getVendorN++
	v, ok := m.vendors[id]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w", id, domain.ErrNotFound)
	}
	return &v, nil
}

func (m *mockStore) ListVendors(_ context.Context) ([]vendor.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]vendor.Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		out = append(out, v)
	}
	return out, nil
}

func (m *mockStore) CreateInvoice(_ context.Context, req invoice.SubmitRequest) (*invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := invoice.Invoice{
		ID:            uuid.NewString(),
		VendorID:      req.VendorID,
		InvoiceNumber: req.InvoiceNumber,
		Amount:        req.Amount,
		Description:   req.Description,
		InvoiceDate:   req.InvoiceDate,
		DueDate:       req.DueDate,
		Status:        invoice.StatusSubmitted,
		CreatedAt:     time.Now().UTC(),
	}
	m.invoices[inv.ID] = inv
	return &inv, nil
}

func (m *mockStore) GetInvoice(_ context.Context, id string) (*invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	return &inv, nil
}

func (m *mockStore) ListInvoices(_ context.Context, filter invoice.Filter) ([]invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []invoice.Invoice
	for _, inv := range m.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.VendorID != "" && inv.VendorID != filter.VendorID {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (m *mockStore) UpdateInvoiceStatus(_ context.Context, id string, status invoice.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus {
		return fmt.Errorf("status write refused")
	}
	inv, ok := m.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	inv.Status = status
	m.invoices[id] = inv
	m.statusWrites = append(m.statusWrites, status)
	return nil
}

func (m *mockStore) RecordOutcome(_ context.Context, id string, out invoice.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOutcome {
		return fmt.Errorf("outcome write refused")
	}
	inv, ok := m.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	inv.Status = out.Status
	inv.PaymentProcessed = out.PaymentProcessed
	inv.AIDecision = out.AIDecision
	inv.AIConfidence = out.AIConfidence
	inv.Analysis = out.Analysis
	t := out.ProcessedAt
	inv.ProcessedAt = &t
	m.invoices[id] = inv
	m.statusWrites = append(m.statusWrites, out.Status)
	return nil
}

func (m *mockStore) GetOrCreateConfig(_ context.Context) (*finconfig.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	return &cfg, nil
}

func (m *mockStore) seedVendor(trust vendor.TrustLevel) string {
	v, _ := m.CreateVendor(context.Background(), vendor.RegisterRequest{
		CompanyName:  "Acme Corp",
		ContactEmail: "billing@acme.test",
		TrustLevel:   trust,
	})
	return v.ID
}

func (m *mockStore) seedInvoice(vendorID string, amount float64, description string) string {
	inv, _ := m.CreateInvoice(context.Background(), invoice.SubmitRequest{
		VendorID:      vendorID,
		InvoiceNumber: "INV-" + uuid.NewString()[:8],
		Amount:        amount,
		Description:   description,
		InvoiceDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	return inv.ID
}

type mockQueue struct {
	mu        sync.Mutex
	connected bool
	published map[string][][]byte
}

func newMockQueue() *mockQueue {
	return &mockQueue{connected: true, published: make(map[string][][]byte)}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *mockQueue) IsConnected() bool { return q.connected }
func (q *mockQueue) Close() error      { return nil }

// stubCompleter returns a canned reply, or an error when set.
type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) Complete(context.Context, reasoning.Request) (reasoning.Response, error) {
	if s.err != nil {
		return reasoning.Response{}, s.err
	}
	return reasoning.Response{Content: s.content}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChain(store *mockStore, queue messagequeue.Queue, llm reasoning.Completer) *ChainService {
	log := testLogger()
	vendors := NewVendorService(store, nil, 0, log)
	return NewChainService(
		store,
		queue,
		NewValidatorAgent(store, vendors, llm, log),
		NewRiskAnalyzerAgent(llm, log),
		NewApprovalAgent(store, llm, log),
		NewPaymentProcessorAgent(store, log),
		nil,
		log,
	)
}
