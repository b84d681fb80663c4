package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	fbotel "github.com/finbot-ai/finbot/internal/adapter/otel"
	"github.com/finbot-ai/finbot/internal/domain"
	"github.com/finbot-ai/finbot/internal/domain/agentresult"
	"github.com/finbot-ai/finbot/internal/domain/finconfig"
	"github.com/finbot-ai/finbot/internal/domain/invoice"
	"github.com/finbot-ai/finbot/internal/port/database"
	"github.com/finbot-ai/finbot/internal/port/messagequeue"
)

// ChainService drives the four stages in fixed order, threading each
// result into the next, and issues the single outcome write at the end
// of the run. Stages never write; only the chain does.
type ChainService struct {
	store     database.Store
	queue     messagequeue.Queue
	validator *ValidatorAgent
	risk      *RiskAnalyzerAgent
	approver  *ApprovalAgent
	payment   *PaymentProcessorAgent
	metrics   *fbotel.Metrics
	log       *slog.Logger
}

func NewChainService(store database.Store, queue messagequeue.Queue, validator *ValidatorAgent, risk *RiskAnalyzerAgent, approver *ApprovalAgent, payment *PaymentProcessorAgent, metrics *fbotel.Metrics, log *slog.Logger) *ChainService {
	if log == nil {
		log = slog.Default()
	}
	return &ChainService{
		store:     store,
		queue:     queue,
		validator: validator,
		risk:      risk,
		approver:  approver,
		payment:   payment,
		metrics:   metrics,
		log:       log,
	}
}

// Process runs the full cascade for one invoice. A missing invoice still
// produces a complete, trivially-cascading chain; only infrastructure
// faults surface as errors, and those roll the invoice status back to
// its pre-call value.
func (s *ChainService) Process(ctx context.Context, invoiceID string) (outcome *agentresult.ProcessOutcome, err error) {
	start := time.Now()
	ctx, chainSpan := fbotel.StartChainSpan(ctx, invoiceID)
	defer chainSpan.End()

	inv, loadErr := s.store.GetInvoice(ctx, invoiceID)
	if loadErr != nil && !errors.Is(loadErr, domain.ErrNotFound) {
		return nil, fmt.Errorf("chain: load invoice: %w", loadErr)
	}
	exists := loadErr == nil

	var prior invoice.Status
	if exists {
		prior = inv.Status
		if err := s.store.UpdateInvoiceStatus(ctx, invoiceID, invoice.StatusProcessing); err != nil {
			return nil, fmt.Errorf("chain: mark processing: %w", err)
		}
		defer func() {
			if r := recover(); r != nil {
				s.restoreStatus(ctx, invoiceID, prior)
				panic(r)
			}
			if err != nil {
				s.restoreStatus(ctx, invoiceID, prior)
			}
		}()
	}

	cfg := finconfig.Default()
	if exists {
		loaded, cfgErr := s.store.GetOrCreateConfig(ctx)
		if cfgErr != nil {
			return nil, fmt.Errorf("chain: load approval config: %w", cfgErr)
		}
		cfg = *loaded
	}

	sctx, span := fbotel.StartStageSpan(ctx, invoiceID, agentresult.AgentValidator)
	vres, err := s.validator.Validate(sctx, invoiceID)
	if err != nil {
		span.End()
		return nil, err
	}
	s.finishStage(span, invoiceID, vres)

	sctx, span = fbotel.StartStageSpan(ctx, invoiceID, agentresult.AgentRiskAnalyzer)
	rres := s.risk.Analyze(sctx, invoiceID, vres)
	s.finishStage(span, invoiceID, rres)

	sctx, span = fbotel.StartStageSpan(ctx, invoiceID, agentresult.AgentApprover)
	ares, err := s.approver.Decide(sctx, invoiceID, cfg, vres, rres)
	if err != nil {
		span.End()
		return nil, err
	}
	s.finishStage(span, invoiceID, ares)

	sctx, span = fbotel.StartStageSpan(ctx, invoiceID, agentresult.AgentPaymentProcessor)
	pres, err := s.payment.Process(sctx, invoiceID, ares)
	if err != nil {
		span.End()
		return nil, err
	}
	s.finishStage(span, invoiceID, pres)

	chain := []agentresult.StageSummary{vres.Summary(), rres.Summary(), ares.Summary(), pres.Summary()}
	finalConfidence := vres.Confidence * rres.Confidence * ares.Confidence
	analysis := agentresult.Analyze(chain, vres.Confidence, finalConfidence)

	decision := agentresult.DecisionReview
	if dd, ok := ares.Data.(*agentresult.DecisionData); ok && dd != nil && dd.Decision.Valid() {
		decision = dd.Decision
	}

	status, aiDecision := mapOutcome(decision, pres.Success)

	if exists {
		blob, mErr := json.Marshal(agentresult.Analysis{AgentChain: chain, CascadeAnalysis: analysis})
		if mErr != nil {
			return nil, fmt.Errorf("chain: serialize analysis: %w", mErr)
		}
		out := invoice.Outcome{
			Status:           status,
			PaymentProcessed: pres.Success,
			AIDecision:       aiDecision,
			AIConfidence:     finalConfidence,
			Analysis:         blob,
			ProcessedAt:      time.Now().UTC(),
		}
		if err := s.store.RecordOutcome(ctx, invoiceID, out); err != nil {
			return nil, fmt.Errorf("chain: record outcome: %w", err)
		}
	}

	outcome = &agentresult.ProcessOutcome{
		Success:          pres.Success,
		InvoiceID:        invoiceID,
		FinalDecision:    decision,
		PaymentProcessed: pres.Success,
		AgentChain:       chain,
		CascadeAnalysis:  analysis,
	}

	chainSpan.SetAttributes(
		attribute.String("chain.status", string(status)),
		attribute.Float64("chain.final_confidence", finalConfidence),
		attribute.Bool("chain.cascade_failures", analysis.CascadeFailuresDetected),
	)
	s.record(ctx, status, pres.Success, analysis.CascadeFailuresDetected, finalConfidence, time.Since(start))

	s.log.Info("invoice processed",
		"invoice_id", invoiceID,
		"status", status,
		"final_decision", decision,
		"final_confidence", finalConfidence,
		"cascade_failures", analysis.CascadeFailuresDetected)

	s.publish(ctx, outcome)
	return outcome, nil
}

func (s *ChainService) record(ctx context.Context, status invoice.Status, paid, cascaded bool, finalConfidence float64, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.InvoicesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", string(status))))
	if paid {
		s.metrics.PaymentsProcessed.Add(ctx, 1)
	}
	if cascaded {
		s.metrics.CascadeFailures.Add(ctx, 1)
	}
	s.metrics.ChainDuration.Record(ctx, elapsed.Seconds())
	s.metrics.FinalConfidence.Record(ctx, finalConfidence)
}

// ValidateOnly runs just the first stage, for pre-flight probing without
// touching invoice state.
func (s *ChainService) ValidateOnly(ctx context.Context, invoiceID string) (agentresult.StageSummary, error) {
	res, err := s.validator.Validate(ctx, invoiceID)
	if err != nil {
		return agentresult.StageSummary{}, err
	}
	return res.Summary(), nil
}

func (s *ChainService) finishStage(span trace.Span, invoiceID string, res agentresult.Result) {
	span.SetAttributes(
		attribute.Bool("stage.success", res.Success),
		attribute.Float64("stage.confidence", res.Confidence),
		attribute.Int("stage.errors", len(res.Errors)),
	)
	span.End()
	s.log.Info("stage completed",
		"invoice_id", invoiceID,
		"agent", res.Agent,
		"success", res.Success,
		"confidence", res.Confidence,
		"errors", len(res.Errors))
}

func (s *ChainService) restoreStatus(ctx context.Context, invoiceID string, prior invoice.Status) {
	if err := s.store.UpdateInvoiceStatus(ctx, invoiceID, prior); err != nil {
		s.log.Error("status rollback failed", "invoice_id", invoiceID, "status", prior, "error", err)
	}
}

func (s *ChainService) publish(ctx context.Context, outcome *agentresult.ProcessOutcome) {
	if s.queue == nil || !s.queue.IsConnected() {
		return
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		s.log.Error("outcome event marshal failed", "invoice_id", outcome.InvoiceID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectInvoiceProcessed, data); err != nil {
		s.log.Warn("outcome event publish failed", "invoice_id", outcome.InvoiceID, "error", err)
	}
}

func mapOutcome(decision agentresult.Decision, paymentOK bool) (invoice.Status, invoice.AIDecision) {
	switch {
	case decision == agentresult.DecisionApprove && paymentOK:
		return invoice.StatusApproved, invoice.AIDecisionAutoApprove
	case decision == agentresult.DecisionReject:
		return invoice.StatusRejected, invoice.AIDecisionReject
	default:
		return invoice.StatusPendingReview, invoice.AIDecisionFlagReview
	}
}
