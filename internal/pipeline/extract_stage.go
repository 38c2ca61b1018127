package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

// Review thresholds used when Config leaves them unset.
const (
	DefaultMinConfidence    = 0.75
	DefaultMinOCRConfidence = 0.5
)

// Config holds thresholds for the extract stage.
type Config struct {
	ConfidenceFields []extract.Field // nil means extract.DefaultConfidenceFields
	MinConfidence    float64
	MinOCRConfidence float32
}

// ExtractInput carries recognized text into the extract stage.
type ExtractInput struct {
	OCRResultID      uuid.UUID
	PatientID        *uuid.UUID
	DocumentPath     *string
	DocumentURL      *string
	Text             string
	OCRConfidence    float32
	HasOCRConfidence bool
	UserID           *string
	Source           string
	Started          time.Time
}

type ExtractStage struct {
	Cfg           Config
	OCRResults    repository.OCRResultRepository
	Prescriptions repository.PrescriptionRepository
	Analytics     repository.AnalyticsRepository
	Extractor     *extract.Extractor
	Schema        *Schema
	Metrics       *Metrics
	Logger        *zap.Logger
}

func NewExtractStage(
	logger *zap.Logger,
	cfg Config,
	results repository.OCRResultRepository,
	prescriptions repository.PrescriptionRepository,
	analytics repository.AnalyticsRepository,
	extractor *extract.Extractor,
	schema *Schema,
	metrics *Metrics,
) *ExtractStage {
	if logger == nil {
		logger = zap.L()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.MinOCRConfidence <= 0 {
		cfg.MinOCRConfidence = DefaultMinOCRConfidence
	}
	if extractor == nil {
		extractor = extract.New(nil)
	}
	return &ExtractStage{
		Cfg:           cfg,
		OCRResults:    results,
		Prescriptions: prescriptions,
		Analytics:     analytics,
		Extractor:     extractor,
		Schema:        schema,
		Metrics:       metrics,
		Logger:        logger,
	}
}

// Run extracts fields from in.Text, stores them on the ocr_results row and
// creates the prescription. Preconditions: the row exists and holds the text.
func (s *ExtractStage) Run(ctx context.Context, in ExtractInput) (*Outcome, error) {
	fields := s.Extractor.Extract(in.Text, extract.Options{ConfidenceFields: s.Cfg.ConfidenceFields})
	needsReview := s.needsReview(fields, in)

	data, err := json.Marshal(fields)
	if err != nil {
		_ = s.OCRResults.FinishFailure(ctx, in.OCRResultID, err.Error())
		return nil, eris.Wrap(err, "marshal extraction")
	}
	if s.Schema != nil {
		if err := s.Schema.Validate(data); err != nil {
			_ = s.OCRResults.FinishFailure(ctx, in.OCRResultID, err.Error())
			return nil, err
		}
	}

	if err := s.OCRResults.FinishExtraction(ctx, in.OCRResultID, data, fields.Confidence, needsReview); err != nil {
		return nil, err
	}

	rx, err := s.Prescriptions.CreateFromExtraction(ctx, &repository.CreateFromExtractionRequest{
		PatientID:    in.PatientID,
		OCRResultID:  &in.OCRResultID,
		DocumentPath: in.DocumentPath,
		DocumentURL:  in.DocumentURL,
		Fields:       fields,
		NeedsReview:  needsReview,
	})
	if err != nil {
		_ = s.OCRResults.FinishFailure(ctx, in.OCRResultID, err.Error())
		return nil, eris.Wrap(err, "store prescription")
	}

	elapsed := time.Since(in.Started)
	s.recordEvent(ctx, in, fields, elapsed)

	outcome := OutcomeExtracted
	if needsReview {
		outcome = OutcomeNeedsReview
	}
	s.Metrics.recordOutcome(ctx, in.Source, outcome)
	s.Metrics.recordConfidence(ctx, in.Source, fields.Confidence)

	s.Logger.Info("extracted prescription fields",
		zap.String("ocr_result_id", in.OCRResultID.String()),
		zap.String("prescription_id", rx.ID.String()),
		zap.String("medication", fields.Medication),
		zap.String("dosage", fields.Dosage),
		zap.Int("refills", fields.Refills),
		zap.Float64("confidence", fields.Confidence),
		zap.Bool("needs_review", needsReview))

	return &Outcome{
		OCRResultID:  in.OCRResultID,
		Status:       constants.OCRStatusExtracted,
		Fields:       &fields,
		Prescription: rx,
		NeedsReview:  needsReview,
		Duration:     elapsed,
	}, nil
}

// needsReview flags low extraction confidence, low OCR confidence and a
// missing medication.
func (s *ExtractStage) needsReview(fields extract.ExtractionResult, in ExtractInput) bool {
	if fields.Confidence < s.Cfg.MinConfidence {
		return true
	}
	if in.HasOCRConfidence && in.OCRConfidence < s.Cfg.MinOCRConfidence {
		s.Logger.Warn("ocr confidence low; needs review",
			zap.String("ocr_result_id", in.OCRResultID.String()),
			zap.Float32("confidence", in.OCRConfidence))
		return true
	}
	return !fields.Matched(extract.FieldMedication)
}

// recordEvent logs the document_processed analytics event. Failures are
// logged and never fail the document.
func (s *ExtractStage) recordEvent(ctx context.Context, in ExtractInput, fields extract.ExtractionResult, elapsed time.Duration) {
	if s.Analytics == nil {
		return
	}
	data := map[string]any{
		"document_id":           in.OCRResultID.String(),
		"processing_time_ms":    elapsed.Milliseconds(),
		"extraction_confidence": fields.Confidence,
		"source":                in.Source,
	}
	if in.PatientID != nil {
		data["patient_id"] = in.PatientID.String()
	}
	if _, err := s.Analytics.Record(ctx, repository.EventDocumentProcessed, data, in.UserID); err != nil {
		s.Logger.Warn("failed to record analytics event", zap.Error(err))
	}
}

// Outcome is the result of processing one document.
type Outcome struct {
	OCRResultID  uuid.UUID                 `json:"ocr_result_id"`
	Status       constants.OCRStatus       `json:"status"`
	Fields       *extract.ExtractionResult `json:"extracted_data,omitempty"`
	Prescription *entity.Prescription      `json:"prescription,omitempty"`
	NeedsReview  bool                      `json:"needs_review"`
	Duration     time.Duration             `json:"-"`
}
