package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ocr"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

const defaultProcessedBy = "document-processor"

// Sources recorded on metrics and analytics events.
const (
	SourceDocument = "document"
	SourceText     = "text"
)

// Processor coordinates OCR (recognize text) then rule-based field extraction.
type Processor struct {
	logger  *zap.Logger
	ocr     *OCRStage
	extract *ExtractStage
	tracer  trace.Tracer
}

func NewProcessor(logger *zap.Logger, ocrStage *OCRStage, extractStage *ExtractStage) *Processor {
	if logger == nil {
		logger = zap.L()
	}
	return &Processor{
		logger:  logger,
		ocr:     ocrStage,
		extract: extractStage,
		tracer:  otel.Tracer(instrumentationName),
	}
}

// New wires both stages over repos. A nil extractor uses the default rules.
func New(logger *zap.Logger, repos *repository.Repositories, provider ocr.Provider, extractor *extract.Extractor, metrics *Metrics, cfg Config) (*Processor, error) {
	if logger == nil {
		logger = zap.L()
	}
	schema, err := CompileSchema()
	if err != nil {
		return nil, err
	}
	ocrStage := NewOCRStage(repos.Documents, repos.OCRResults, provider, metrics, logger.Named("ocr_stage"))
	extractStage := NewExtractStage(logger.Named("extract_stage"), cfg, repos.OCRResults, repos.Prescriptions, repos.Analytics, extractor, schema, metrics)
	return NewProcessor(logger, ocrStage, extractStage), nil
}

// ProcessDocument runs OCR for a stored document, then extraction, and
// stores the prescription. Documents that need manual entry are not an
// error: the outcome carries MANUAL_ENTRY and no prescription.
func (p *Processor) ProcessDocument(ctx context.Context, documentID uuid.UUID) (*Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ProcessDocument",
		trace.WithAttributes(attribute.String("document_id", documentID.String())))
	defer span.End()
	started := time.Now()

	res, err := p.ocr.Run(ctx, documentID)
	if errors.Is(err, ocr.ErrManualEntry) && res != nil {
		p.ocr.Metrics.recordOutcome(ctx, SourceDocument, OutcomeManualEntry)
		p.logger.Info("document needs manual entry",
			zap.String("document_id", documentID.String()),
			zap.String("ocr_result_id", res.OCRResultID.String()))
		return &Outcome{
			OCRResultID: res.OCRResultID,
			Status:      constants.OCRStatusManualEntry,
			NeedsReview: true,
			Duration:    time.Since(started),
		}, nil
	}
	if err != nil {
		p.fail(ctx, span, SourceDocument, err)
		p.logger.Error("processor ocr failed", zap.String("document_id", documentID.String()), zap.Error(err))
		return failedOutcome(res, started), err
	}

	doc := res.Document
	out, err := p.extract.Run(ctx, ExtractInput{
		OCRResultID:      res.OCRResultID,
		PatientID:        &doc.PatientID,
		DocumentPath:     &doc.SourcePath,
		DocumentURL:      doc.DocumentURL,
		Text:             res.Text.Text,
		OCRConfidence:    res.Text.Confidence,
		HasOCRConfidence: res.Text.HasConfidence,
		Source:           SourceDocument,
		Started:          started,
	})
	if err != nil {
		p.fail(ctx, span, SourceDocument, err)
		p.logger.Error("processor extract failed", zap.String("ocr_result_id", res.OCRResultID.String()), zap.Error(err))
		return failedOutcome(res, started), err
	}
	span.SetAttributes(attribute.Float64("confidence", out.Fields.Confidence))
	return out, nil
}

// ProcessTextRequest is text recognized by the client for an uploaded
// document. JSON names match the process-document endpoint payload.
type ProcessTextRequest struct {
	DocumentURL   string `json:"documentUrl"`
	DocumentPath  string `json:"documentPath"`
	PatientID     string `json:"patientId"`
	ExtractedText string `json:"extractedText"`
	UserID        string `json:"-"`
}

// ProcessText stores client-recognized text as an OCR result, extracts the
// fields and stores the prescription.
func (p *Processor) ProcessText(ctx context.Context, req ProcessTextRequest) (*Outcome, error) {
	v := common.NewValidator().
		Field("documentPath", req.DocumentPath, common.Required)
	if req.PatientID != "" {
		v.Field("patientId", req.PatientID, common.UUID)
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.ProcessText",
		trace.WithAttributes(attribute.Int("text_bytes", len(req.ExtractedText))))
	defer span.End()
	started := time.Now()

	var patientID *uuid.UUID
	if req.PatientID != "" {
		id := uuid.MustParse(req.PatientID)
		patientID = &id
	}
	docPath := strings.TrimSpace(req.DocumentPath)
	var docURL *string
	if req.DocumentURL != "" {
		docURL = &req.DocumentURL
	}
	var userID *string
	if req.UserID != "" {
		userID = &req.UserID
	}

	p.logger.Info("processing document text",
		zap.String("document_path", docPath),
		zap.Int("text_bytes", len(req.ExtractedText)))

	raw := req.ExtractedText
	row, err := p.extract.OCRResults.Create(ctx, &entity.OCRResult{
		PatientID:    patientID,
		DocumentPath: docPath,
		DocumentURL:  docURL,
		Format:       string(constants.FormatText),
		Status:       string(constants.OCRStatusOCROK),
		RawText:      &raw,
		ProcessedBy:  defaultProcessedBy,
	})
	if err != nil {
		p.fail(ctx, span, SourceText, err)
		return nil, eris.Wrap(err, "store ocr result")
	}

	out, err := p.extract.Run(ctx, ExtractInput{
		OCRResultID:  row.ID,
		PatientID:    patientID,
		DocumentPath: &docPath,
		DocumentURL:  docURL,
		Text:         raw,
		UserID:       userID,
		Source:       SourceText,
		Started:      started,
	})
	if err != nil {
		p.fail(ctx, span, SourceText, err)
		return &Outcome{OCRResultID: row.ID, Status: constants.OCRStatusFailed, Duration: time.Since(started)}, err
	}
	return out, nil
}

func (p *Processor) fail(ctx context.Context, span trace.Span, source string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.extract.Metrics.recordOutcome(ctx, source, OutcomeFailed)
}

func failedOutcome(res *OCRStageResult, started time.Time) *Outcome {
	if res == nil {
		return nil
	}
	return &Outcome{OCRResultID: res.OCRResultID, Status: constants.OCRStatusFailed, Duration: time.Since(started)}
}
