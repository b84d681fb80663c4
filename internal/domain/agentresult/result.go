// Package agentresult defines the per-stage result carrier and the
// aggregate cascade analysis produced by one invoice processing run.
package agentresult

import (
	"strings"
	"time"
)

// Agent names, as they appear in chain logs and persisted analysis blobs.
const (
	AgentValidator        = "ValidatorAgent"
	AgentRiskAnalyzer     = "RiskAnalyzerAgent"
	AgentApprover         = "ApprovalAgent"
	AgentPaymentProcessor = "PaymentProcessorAgent"
)

// Cascade-failure error codes. A stage emits one of these, prefixed to the
// upstream error list, when its predecessor failed and no independent
// evaluation is possible.
const (
	CascadeFromValidator    = "CASCADE_FAILURE_FROM_VALIDATOR"
	CascadeFromRiskAnalyzer = "CASCADE_FAILURE_FROM_RISK_ANALYZER"
	CascadeFromApprover     = "CASCADE_FAILURE_FROM_APPROVER"
)

// Result is the outcome of a single pipeline stage. Success means the stage
// completed its own evaluation, not that the invoice will be paid. Data holds
// the stage-specific payload (*ValidationData, *RiskData, *DecisionData or
// *PaymentData); it is nil only when the stage failed because of an upstream
// cascade with nothing to evaluate.
type Result struct {
	Agent      string    `json:"agent"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Errors     []string  `json:"errors"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary reduces the result to the chain-log entry that is persisted and
// returned to callers. Errors is never nil so the log serializes as [].
func (r Result) Summary() StageSummary {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return StageSummary{
		Agent:      r.Agent,
		Success:    r.Success,
		Confidence: r.Confidence,
		Reasoning:  r.Reasoning,
		Errors:     errs,
	}
}

// ValidationData is the validator stage payload. It is the input-of-record
// for the risk analyzer, which deliberately reads it instead of the raw
// invoice.
type ValidationData struct {
	Amount         float64 `json:"amount"`
	Description    string  `json:"description"`
	VendorVerified bool    `json:"vendor_verified"`
}

// RiskLevel classifies the analyzed risk of an invoice.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the level is one of the four known values.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// RiskData is the risk analyzer stage payload.
type RiskData struct {
	RiskLevel               RiskLevel `json:"risk_level"`
	RiskScore               float64   `json:"risk_score"`
	FraudIndicators         []string  `json:"fraud_indicators"`
	PromptInjectionDetected bool      `json:"prompt_injection_detected"`
	Recommendation          Decision  `json:"recommendation"`
}

// Decision is the approval verdict for an invoice.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionReview  Decision = "review"
)

// Valid reports whether the decision is one of the three known values.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionReview:
		return true
	}
	return false
}

// DecisionData is the approval stage payload.
type DecisionData struct {
	Decision       Decision `json:"decision"`
	RequiresHuman  bool     `json:"requires_human"`
	ConfidenceMult float64  `json:"confidence_multiplier"`
}

// PaymentData is the payment stage payload.
type PaymentData struct {
	PaymentProcessed bool    `json:"payment_processed"`
	Amount           float64 `json:"amount,omitempty"`
}

// StageSummary is one entry of the chain log.
type StageSummary struct {
	Agent      string   `json:"agent"`
	Success    bool     `json:"success"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Errors     []string `json:"errors"`
}

// CascadeAnalysis aggregates how failure and uncertainty propagated through
// the chain. FinalConfidence is the product of the validator, risk and
// approval confidences; the payment stage only gates on that value and does
// not contribute to it.
type CascadeAnalysis struct {
	InitialConfidence       float64 `json:"initial_confidence"`
	FinalConfidence         float64 `json:"final_confidence"`
	ConfidenceDegradation   float64 `json:"confidence_degradation"`
	TotalErrors             int     `json:"total_errors"`
	FailedAgents            int     `json:"failed_agents"`
	CascadeFailuresDetected bool    `json:"cascade_failures_detected"`
}

// Analysis is the audit blob persisted on the invoice after a run.
type Analysis struct {
	AgentChain      []StageSummary  `json:"agent_chain"`
	CascadeAnalysis CascadeAnalysis `json:"cascade_analysis"`
}

// ProcessOutcome is the externally observable result of one processing call.
type ProcessOutcome struct {
	Success          bool            `json:"success"`
	InvoiceID        string          `json:"invoice_id"`
	FinalDecision    Decision        `json:"final_decision"`
	PaymentProcessed bool            `json:"payment_processed"`
	AgentChain       []StageSummary  `json:"agent_chain"`
	CascadeAnalysis  CascadeAnalysis `json:"cascade_analysis"`
}

// Analyze computes the cascade analysis for a completed chain log.
func Analyze(chain []StageSummary, initial, final float64) CascadeAnalysis {
	total := 0
	failed := 0
	for _, s := range chain {
		total += len(s.Errors)
		if !s.Success {
			failed++
		}
	}
	return CascadeAnalysis{
		InitialConfidence:       initial,
		FinalConfidence:         final,
		ConfidenceDegradation:   initial - final,
		TotalErrors:             total,
		FailedAgents:            failed,
		CascadeFailuresDetected: HasCascadeFailure(chain),
	}
}

// HasCascadeFailure reports whether any error code in the chain marks a
// propagated upstream failure.
func HasCascadeFailure(chain []StageSummary) bool {
	for _, s := range chain {
		for _, e := range s.Errors {
			if strings.Contains(e, "CASCADE") {
				return true
			}
		}
	}
	return false
}

// ClampConfidence forces v into [0, 1]. Fallback formulas can go negative
// and backend replies can exceed 1 before clamping.
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
