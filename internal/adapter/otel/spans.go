package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "finbot"

// StartChainSpan starts a span covering a full cascade run.
func StartChainSpan(ctx context.Context, invoiceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chain",
		trace.WithAttributes(
			attribute.String("invoice.id", invoiceID),
		),
	)
}

// StartStageSpan starts a span for one agent stage within a cascade run.
func StartStageSpan(ctx context.Context, invoiceID, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("invoice.id", invoiceID),
			attribute.String("stage.agent", agent),
		),
	)
}
