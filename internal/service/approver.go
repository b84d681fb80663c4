package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finbot-ai/finbot/internal/domain/agentresult"
	"github.com/finbot-ai/finbot/internal/domain/finconfig"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/port/database"
	"github.com/finbot-ai/finbot/internal/port/reasoning"
)

const errTooManyUpstreamErrors = 5

// ApprovalAgent is the third pipeline stage. It turns the validation and
// risk evidence into an approve/reject/review verdict against the
// configured monetary thresholds.
type ApprovalAgent struct {
	store database.Store
	llm   reasoning.Completer
	log   *slog.Logger
}

func NewApprovalAgent(store database.Store, llm reasoning.Completer, log *slog.Logger) *ApprovalAgent {
	if log == nil {
		log = slog.Default()
	}
	return &ApprovalAgent{store: store, llm: llm, log: log}
}

// Decide produces the approval verdict. Upstream errors from both prior
// stages are concatenated in order; duplicates are kept.
func (a *ApprovalAgent) Decide(ctx context.Context, invoiceID string, cfg finconfig.Config, validatorResult, riskResult agentresult.Result) (agentresult.Result, error) {
	accumulated := make([]string, 0, len(validatorResult.Errors)+len(riskResult.Errors))
	accumulated = append(accumulated, validatorResult.Errors...)
	accumulated = append(accumulated, riskResult.Errors...)

	if !riskResult.Success {
		errs := make([]string, 0, len(accumulated)+1)
		errs = append(errs, agentresult.CascadeFromRiskAnalyzer)
		errs = append(errs, accumulated...)
		return agentresult.Result{
			Agent:      agentresult.AgentApprover,
			Success:    false,
			Confidence: 0,
			Reasoning:  "Risk analysis failed upstream, rejecting by policy",
			Errors:     errs,
			Data: &agentresult.DecisionData{
				Decision:       agentresult.DecisionReject,
				RequiresHuman:  false,
				ConfidenceMult: 0,
			},
			Timestamp: time.Now().UTC(),
		}, nil
	}

	multiplier := validatorResult.Confidence * riskResult.Confidence

	rd, ok := riskResult.Data.(*agentresult.RiskData)
	if !ok || rd == nil {
		rd = &agentresult.RiskData{RiskLevel: agentresult.RiskMedium}
	}

	inv, err := a.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return agentresult.Result{}, fmt.Errorf("approver: load invoice: %w", err)
	}

	if a.llm != nil {
		if res, ok := a.reasoned(ctx, inv, cfg, rd, multiplier, accumulated); ok {
			return res, nil
		}
		a.log.Warn("approval reasoning unavailable, using rule fallback", "invoice_id", invoiceID)
	}
	return a.fallback(inv, cfg, rd, multiplier, accumulated), nil
}

type decisionReply struct {
	Decision      agentresult.Decision `json:"decision"`
	Confidence    float64              `json:"confidence"`
	RequiresHuman bool                 `json:"requires_human"`
	Reasoning     string               `json:"reasoning"`
}

func (a *ApprovalAgent) reasoned(ctx context.Context, inv *invoice.Invoice, cfg finconfig.Config, rd *agentresult.RiskData, multiplier float64, accumulated []string) (agentresult.Result, bool) {
	resp, err := a.llm.Complete(ctx, reasoning.Request{
		System: "You are an invoice approval agent. Weigh the risk assessment against company " +
			"approval policy and decide. Respond with JSON only: " +
			"{\"decision\": \"approve|reject|review\", \"confidence\": 0.0-1.0, \"requires_human\": bool, \"reasoning\": string}.",
		User: buildApprovalPrompt(inv, cfg, rd, multiplier, accumulated),
	})
	if err != nil {
		a.log.Warn("approval completion failed", "invoice_id", inv.ID, "error", err)
		return agentresult.Result{}, false
	}

	reply, err := decodeReply[decisionReply](resp.Content)
	if err != nil {
		a.log.Warn("approval reply unusable", "invoice_id", inv.ID, "error", err)
		return agentresult.Result{}, false
	}
	if !reply.Decision.Valid() {
		a.log.Warn("approval reply out of schema", "invoice_id", inv.ID, "decision", reply.Decision)
		return agentresult.Result{}, false
	}

	errs := []string{}
	if reply.Decision == agentresult.DecisionReject {
		errs = accumulated
	}
	return agentresult.Result{
		Agent:      agentresult.AgentApprover,
		Success:    true,
		Confidence: agentresult.ClampConfidence(agentresult.ClampConfidence(reply.Confidence) * multiplier),
		Reasoning:  reply.Reasoning,
		Errors:     errs,
		Data: &agentresult.DecisionData{
			Decision:       reply.Decision,
			RequiresHuman:  reply.RequiresHuman,
			ConfidenceMult: multiplier,
		},
		Timestamp: time.Now().UTC(),
	}, true
}

func buildApprovalPrompt(inv *invoice.Invoice, cfg finconfig.Config, rd *agentresult.RiskData, multiplier float64, accumulated []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decide on this invoice:\n")
	fmt.Fprintf(&b, "Amount: %.2f\n", inv.Amount)
	fmt.Fprintf(&b, "Risk level: %s (score %.2f), recommendation: %s\n", rd.RiskLevel, rd.RiskScore, rd.Recommendation)
	fmt.Fprintf(&b, "Cumulative confidence: %.3f\n", multiplier)
	fmt.Fprintf(&b, "Accumulated issues: %s\n", strings.Join(accumulated, ", "))
	fmt.Fprintf(&b, "Policy: auto-approve below %.2f, manual review above %.2f, speed priority: %t\n",
		cfg.AutoApproveThreshold, cfg.ManualReviewThreshold, cfg.SpeedPriority)
	return b.String()
}

// fallback walks an ordered rule list; the first matching rule wins.
func (a *ApprovalAgent) fallback(inv *invoice.Invoice, cfg finconfig.Config, rd *agentresult.RiskData, multiplier float64, accumulated []string) agentresult.Result {
	decision, requiresHuman, why := decideByRules(inv.Amount, cfg, rd.RiskLevel, multiplier, len(accumulated))

	confidence := multiplier * 0.8
	if confidence < minStageConfidence {
		confidence = minStageConfidence
	}

	errs := []string{}
	if decision == agentresult.DecisionReject {
		errs = accumulated
	}

	return agentresult.Result{
		Agent:      agentresult.AgentApprover,
		Success:    true,
		Confidence: confidence,
		Reasoning:  why,
		Errors:     errs,
		Data: &agentresult.DecisionData{
			Decision:       decision,
			RequiresHuman:  requiresHuman,
			ConfidenceMult: multiplier,
		},
		Timestamp: time.Now().UTC(),
	}
}

func decideByRules(amount float64, cfg finconfig.Config, level agentresult.RiskLevel, multiplier float64, errorCount int) (agentresult.Decision, bool, string) {
	switch {
	case errorCount >= errTooManyUpstreamErrors:
		return agentresult.DecisionReject, false,
			fmt.Sprintf("Rejected: %d accumulated issues across prior stages", errorCount)
	case multiplier < 0.3:
		return agentresult.DecisionReview, true,
			fmt.Sprintf("Flagged for review: cumulative confidence %.3f too low", multiplier)
	case level == agentresult.RiskCritical:
		return agentresult.DecisionReject, false, "Rejected: critical risk level"
	case level == agentresult.RiskHigh:
		return agentresult.DecisionReview, true, "Flagged for review: high risk level"
	case amount > cfg.ManualReviewThreshold:
		if level == agentresult.RiskLow && multiplier > 0.6 {
			return agentresult.DecisionApprove, false,
				fmt.Sprintf("Approved: large amount %.2f but low risk and strong confidence", amount)
		}
		return agentresult.DecisionReview, true,
			fmt.Sprintf("Flagged for review: amount %.2f exceeds manual review threshold", amount)
	case amount < cfg.AutoApproveThreshold:
		if (level == agentresult.RiskLow || level == agentresult.RiskMedium) && multiplier > 0.5 {
			return agentresult.DecisionApprove, false,
				fmt.Sprintf("Approved: amount %.2f within auto-approve threshold", amount)
		}
		return agentresult.DecisionReview, true,
			fmt.Sprintf("Flagged for review: amount %.2f small but confidence or risk unfavorable", amount)
	default:
		if level == agentresult.RiskLow && multiplier > 0.7 {
			return agentresult.DecisionApprove, false,
				fmt.Sprintf("Approved: mid-range amount %.2f, low risk, strong confidence", amount)
		}
		return agentresult.DecisionReview, true,
			fmt.Sprintf("Flagged for review: mid-range amount %.2f without strong evidence", amount)
	}
}
