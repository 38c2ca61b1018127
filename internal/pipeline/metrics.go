package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"

// Outcome labels for the processed documents counter.
const (
	OutcomeExtracted   = "extracted"
	OutcomeNeedsReview = "needs_review"
	OutcomeManualEntry = "manual_entry"
	OutcomeFailed      = "failed"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	documents   metric.Int64Counter
	confidence  metric.Float64Histogram
	ocrDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	documents, err := meter.Int64Counter(
		"rxtracker.documents.processed",
		metric.WithDescription("Number of documents processed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	confidence, err := meter.Float64Histogram(
		"rxtracker.extraction.confidence",
		metric.WithDescription("Extraction confidence of stored prescriptions"),
		metric.WithExplicitBucketBoundaries(0, 0.25, 0.5, 0.75, 1),
	)
	if err != nil {
		return nil, err
	}

	ocrDuration, err := meter.Float64Histogram(
		"rxtracker.ocr.duration",
		metric.WithDescription("OCR provider latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{documents: documents, confidence: confidence, ocrDuration: ocrDuration}, nil
}

func (m *Metrics) recordOutcome(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.documents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) recordConfidence(ctx context.Context, source string, c float64) {
	if m == nil {
		return
	}
	m.confidence.Record(ctx, c, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) recordOCR(ctx context.Context, provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ocrDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("error", err != nil),
	))
}
