package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "finbot"

// Metrics holds all pipeline metric instruments.
type Metrics struct {
	InvoicesProcessed metric.Int64Counter
	PaymentsProcessed metric.Int64Counter
	CascadeFailures   metric.Int64Counter
	ChainDuration     metric.Float64Histogram
	FinalConfidence   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InvoicesProcessed, err = meter.Int64Counter("finbot.invoices.processed",
		metric.WithDescription("Number of invoices run through the cascade"))
	if err != nil {
		return nil, err
	}

	m.PaymentsProcessed, err = meter.Int64Counter("finbot.payments.processed",
		metric.WithDescription("Number of payments processed"))
	if err != nil {
		return nil, err
	}

	m.CascadeFailures, err = meter.Int64Counter("finbot.cascade.failures",
		metric.WithDescription("Number of runs with at least one cascade failure"))
	if err != nil {
		return nil, err
	}

	m.ChainDuration, err = meter.Float64Histogram("finbot.chain.duration_seconds",
		metric.WithDescription("Cascade run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.FinalConfidence, err = meter.Float64Histogram("finbot.chain.final_confidence",
		metric.WithDescription("Final cumulative confidence per run"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
