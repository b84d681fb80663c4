package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/finbot-ai/finbot/internal/domain"
	"github.com/finbot-ai/finbot/internal/domain/agentresult"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/domain/vendor"
	"github.com/finbot-ai/finbot/internal/port/database"
	"github.com/finbot-ai/finbot/internal/port/reasoning"
)

// Validator issue codes.
const (
	errInvoiceNotFound  = "INVOICE_NOT_FOUND"
	errInvalidAmount    = "INVALID_AMOUNT"
	errUnusuallyHighAmt = "UNUSUALLY_HIGH_AMOUNT"
	errDescriptionShort = "DESCRIPTION_TOO_SHORT"
	errDescriptionLong  = "DESCRIPTION_TOO_LONG"
	errLowTrustVendor   = "LOW_TRUST_VENDOR"
)

const (
	maxPlausibleAmount   = 100_000.0
	minDescriptionLength = 10
	maxDescriptionLength = 1000
	baseValidatorScore   = 0.85
	minStageConfidence   = 0.1
)

// ValidatorAgent is the first pipeline stage. It checks invoice
// plausibility and produces the normalized payload the downstream
// stages evaluate instead of the raw record.
type ValidatorAgent struct {
	store   database.Store
	vendors *VendorService
	llm     reasoning.Completer
	log     *slog.Logger
}

func NewValidatorAgent(store database.Store, vendors *VendorService, llm reasoning.Completer, log *slog.Logger) *ValidatorAgent {
	if log == nil {
		log = slog.Default()
	}
	return &ValidatorAgent{store: store, vendors: vendors, llm: llm, log: log}
}

// Validate evaluates the invoice. A missing invoice is a stage failure,
// not an error; the error return is reserved for infrastructure faults.
func (a *ValidatorAgent) Validate(ctx context.Context, invoiceID string) (agentresult.Result, error) {
	inv, err := a.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return agentresult.Result{
				Agent:      agentresult.AgentValidator,
				Success:    false,
				Confidence: 0,
				Reasoning:  fmt.Sprintf("Invoice %s does not exist", invoiceID),
				Errors:     []string{errInvoiceNotFound},
				Timestamp:  time.Now().UTC(),
			}, nil
		}
		return agentresult.Result{}, fmt.Errorf("validator: load invoice: %w", err)
	}

	vnd, err := a.vendors.Get(ctx, inv.VendorID)
	if err != nil {
		return agentresult.Result{}, fmt.Errorf("validator: load vendor %s: %w", inv.VendorID, err)
	}

	if a.llm != nil {
		if res, ok := a.reasoned(ctx, inv, vnd); ok {
			return res, nil
		}
		a.log.Warn("validator reasoning unavailable, using rule fallback", "invoice_id", invoiceID)
	}
	return a.fallback(inv, vnd), nil
}

type validationReply struct {
	Valid          bool     `json:"valid"`
	Confidence     float64  `json:"confidence"`
	Issues         []string `json:"issues"`
	NormalizedData struct {
		Amount         float64 `json:"amount"`
		Description    string  `json:"description"`
		VendorVerified bool    `json:"vendor_verified"`
	} `json:"normalized_data"`
	Reasoning string `json:"reasoning"`
}

func (a *ValidatorAgent) reasoned(ctx context.Context, inv *invoice.Invoice, vnd *vendor.Vendor) (agentresult.Result, bool) {
	resp, err := a.llm.Complete(ctx, reasoning.Request{
		System: "You are an invoice validation agent. Check invoices for completeness and plausibility. " +
			"Respond with JSON only: {\"valid\": bool, \"confidence\": 0.0-1.0, \"issues\": [codes], " +
			"\"normalized_data\": {\"amount\": number, \"description\": string, \"vendor_verified\": bool}, \"reasoning\": string}. " +
			"Known issue codes: INVALID_AMOUNT, UNUSUALLY_HIGH_AMOUNT, DESCRIPTION_TOO_SHORT, DESCRIPTION_TOO_LONG, LOW_TRUST_VENDOR.",
		User: buildValidationPrompt(inv, vnd),
	})
	if err != nil {
		a.log.Warn("validator completion failed", "invoice_id", inv.ID, "error", err)
		return agentresult.Result{}, false
	}

	reply, err := decodeReply[validationReply](resp.Content)
	if err != nil {
		a.log.Warn("validator reply unusable", "invoice_id", inv.ID, "error", err)
		return agentresult.Result{}, false
	}

	issues := reply.Issues
	if issues == nil {
		issues = []string{}
	}
	return agentresult.Result{
		Agent:      agentresult.AgentValidator,
		Success:    reply.Valid,
		Confidence: agentresult.ClampConfidence(reply.Confidence),
		Reasoning:  reply.Reasoning,
		Errors:     issues,
		Data: &agentresult.ValidationData{
			Amount:         reply.NormalizedData.Amount,
			Description:    reply.NormalizedData.Description,
			VendorVerified: reply.NormalizedData.VendorVerified,
		},
		Timestamp: time.Now().UTC(),
	}, true
}

func buildValidationPrompt(inv *invoice.Invoice, vnd *vendor.Vendor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validate this invoice:\n")
	fmt.Fprintf(&b, "Invoice number: %s\n", sanitizePromptInput(inv.InvoiceNumber))
	fmt.Fprintf(&b, "Amount: %.2f\n", inv.Amount)
	fmt.Fprintf(&b, "Description: %s\n", sanitizePromptInput(inv.Description))
	fmt.Fprintf(&b, "Vendor: %s (trust level: %s)\n", sanitizePromptInput(vnd.CompanyName), vnd.TrustLevel)
	fmt.Fprintf(&b, "Invoice date: %s, due date: %s\n", inv.InvoiceDate.Format("2006-01-02"), inv.DueDate.Format("2006-01-02"))
	return b.String()
}

// fallback applies the deterministic validation rules. A lone low-trust
// finding is advisory: it deducts confidence but does not fail the stage.
func (a *ValidatorAgent) fallback(inv *invoice.Invoice, vnd *vendor.Vendor) agentresult.Result {
	var issues []string
	confidence := baseValidatorScore

	if inv.Amount <= 0 {
		issues = append(issues, errInvalidAmount)
		confidence -= 0.3
	} else if inv.Amount > maxPlausibleAmount {
		issues = append(issues, errUnusuallyHighAmt)
		confidence -= 0.1
	}

	descLen := utf8.RuneCountInString(inv.Description)
	if descLen < minDescriptionLength {
		issues = append(issues, errDescriptionShort)
		confidence -= 0.2
	} else if descLen > maxDescriptionLength {
		issues = append(issues, errDescriptionLong)
		confidence -= 0.1
	}

	verified := vnd.TrustLevel.Verified()
	if !verified {
		issues = append(issues, errLowTrustVendor)
		confidence -= 0.15
	}

	if confidence < minStageConfidence {
		confidence = minStageConfidence
	}
	if issues == nil {
		issues = []string{}
	}

	success := len(issues) == 0 || (len(issues) == 1 && issues[0] == errLowTrustVendor)
	why := "Rule-based validation passed"
	if len(issues) > 0 {
		why = fmt.Sprintf("Rule-based validation found issues: %s", strings.Join(issues, ", "))
	}

	return agentresult.Result{
		Agent:      agentresult.AgentValidator,
		Success:    success,
		Confidence: confidence,
		Reasoning:  why,
		Errors:     issues,
		Data: &agentresult.ValidationData{
			Amount:         inv.Amount,
			Description:    inv.Description,
			VendorVerified: verified,
		},
		Timestamp: time.Now().UTC(),
	}
}
