package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finbot-ai/finbot/internal/domain/agentresult"
	"github.com/finbot-ai/finbot/internal/port/database"
)

// Payment gate codes.
const (
	errNotApproved      = "NOT_APPROVED"
	errLowCumulativeCnf = "LOW_CUMULATIVE_CONFIDENCE"
	paymentFloor        = 0.3
)

// PaymentProcessorAgent is the final pipeline stage. It has no reasoning
// path: payment either clears a fixed set of gates or it does not.
type PaymentProcessorAgent struct {
	store database.Store
	log   *slog.Logger
}

func NewPaymentProcessorAgent(store database.Store, log *slog.Logger) *PaymentProcessorAgent {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentProcessorAgent{store: store, log: log}
}

// Process gates the payment on the approval outcome. A non-approve
// decision is an expected outcome here, not a system error.
func (a *PaymentProcessorAgent) Process(ctx context.Context, invoiceID string, approvalResult agentresult.Result) (agentresult.Result, error) {
	now := time.Now().UTC()

	if !approvalResult.Success {
		errs := make([]string, 0, len(approvalResult.Errors)+1)
		errs = append(errs, agentresult.CascadeFromApprover)
		errs = append(errs, approvalResult.Errors...)
		return agentresult.Result{
			Agent:      agentresult.AgentPaymentProcessor,
			Success:    false,
			Confidence: 0,
			Reasoning:  "Approval failed upstream, payment blocked",
			Errors:     errs,
			Timestamp:  now,
		}, nil
	}

	dd, ok := approvalResult.Data.(*agentresult.DecisionData)
	if !ok || dd == nil {
		dd = &agentresult.DecisionData{Decision: agentresult.DecisionReview}
	}

	if dd.Decision != agentresult.DecisionApprove {
		return agentresult.Result{
			Agent:      agentresult.AgentPaymentProcessor,
			Success:    false,
			Confidence: approvalResult.Confidence,
			Reasoning:  fmt.Sprintf("Payment not processed: decision was %q", dd.Decision),
			Errors:     []string{errNotApproved},
			Data:       &agentresult.PaymentData{PaymentProcessed: false},
			Timestamp:  now,
		}, nil
	}

	if approvalResult.Confidence < paymentFloor {
		return agentresult.Result{
			Agent:      agentresult.AgentPaymentProcessor,
			Success:    false,
			Confidence: approvalResult.Confidence,
			Reasoning: fmt.Sprintf("Payment blocked: cumulative confidence %.3f below %.1f floor",
				approvalResult.Confidence, paymentFloor),
			Errors:    []string{errLowCumulativeCnf},
			Data:      &agentresult.PaymentData{PaymentProcessed: false},
			Timestamp: now,
		}, nil
	}

	inv, err := a.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return agentresult.Result{}, fmt.Errorf("payment: load invoice: %w", err)
	}

	a.log.Info("payment processed", "invoice_id", invoiceID, "amount", inv.Amount)
	return agentresult.Result{
		Agent:      agentresult.AgentPaymentProcessor,
		Success:    true,
		Confidence: approvalResult.Confidence,
		Reasoning:  fmt.Sprintf("Payment of %.2f processed", inv.Amount),
		Errors:     []string{},
		Data:       &agentresult.PaymentData{PaymentProcessed: true, Amount: inv.Amount},
		Timestamp:  now,
	}, nil
}
