// Package invoice defines the Invoice domain entity, the subject record of
// the cascade pipeline.
package invoice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/finbot-ai/finbot/internal/domain"
	"github.com/finbot-ai/finbot/internal/domain/agentresult"
)

// Status represents the processing state of an invoice.
type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusProcessing    Status = "processing"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusPendingReview Status = "pending_review"
)

// AIDecision is the persisted shorthand for the chain's final disposition.
type AIDecision string

const (
	AIDecisionAutoApprove AIDecision = "auto_approve"
	AIDecisionReject      AIDecision = "reject"
	AIDecisionFlagReview  AIDecision = "flag_review"
)

// Invoice represents one submitted vendor invoice. Only the orchestrator
// mutates it after submission, and only through a single outcome write at
// the end of a run.
type Invoice struct {
	ID               string          `json:"id"`
	VendorID         string          `json:"vendor_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	Amount           float64         `json:"amount"`
	Description      string          `json:"description"`
	InvoiceDate      time.Time       `json:"invoice_date"`
	DueDate          time.Time       `json:"due_date"`
	Status           Status          `json:"status"`
	PaymentProcessed bool            `json:"payment_processed"`
	AIDecision       AIDecision      `json:"ai_decision,omitempty"`
	AIConfidence     float64         `json:"ai_confidence"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ParseAnalysis decodes the persisted chain+analysis blob, if present.
func (i *Invoice) ParseAnalysis() (*agentresult.Analysis, error) {
	if len(i.Analysis) == 0 {
		return nil, fmt.Errorf("invoice %s: analysis: %w", i.ID, domain.ErrNotFound)
	}
	var a agentresult.Analysis
	if err := json.Unmarshal(i.Analysis, &a); err != nil {
		return nil, fmt.Errorf("parse analysis for invoice %s: %w", i.ID, err)
	}
	return &a, nil
}

// SubmitRequest holds the fields needed to submit an invoice.
type SubmitRequest struct {
	VendorID      string    `json:"vendor_id,omitempty"`
	InvoiceNumber string    `json:"invoice_number"`
	Amount        float64   `json:"amount"`
	Description   string    `json:"description"`
	InvoiceDate   time.Time `json:"invoice_date"`
	DueDate       time.Time `json:"due_date"`
}

// Validate checks required fields. Amount and description limits are not
// checked here: out-of-range values are exactly what the validator stage
// evaluates.
func (r *SubmitRequest) Validate() error {
	if r.InvoiceNumber == "" {
		return fmt.Errorf("%w: invoice_number is required", domain.ErrValidation)
	}
	if r.Description == "" {
		return fmt.Errorf("%w: description is required", domain.ErrValidation)
	}
	return nil
}

// Filter narrows invoice listings.
type Filter struct {
	Status   Status
	VendorID string
}

// Outcome is the single write the orchestrator issues at the end of a run.
type Outcome struct {
	Status           Status
	PaymentProcessed bool
	AIDecision       AIDecision
	AIConfidence     float64
	Analysis         json.RawMessage
	ProcessedAt      time.Time
}
