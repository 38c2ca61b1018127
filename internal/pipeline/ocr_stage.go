package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ocr"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

// OCRStageResult is what the OCR stage hands to the extract stage.
type OCRStageResult struct {
	OCRResultID uuid.UUID
	Document    *entity.Document
	Text        ocr.RecognizedText
}

type OCRStage struct {
	Documents   repository.DocumentRepository
	OCRResults  repository.OCRResultRepository
	Provider    ocr.Provider
	ProcessedBy string
	Metrics     *Metrics
	Logger      *zap.Logger
}

func NewOCRStage(docs repository.DocumentRepository, results repository.OCRResultRepository, provider ocr.Provider, metrics *Metrics, logger *zap.Logger) *OCRStage {
	if logger == nil {
		logger = zap.L()
	}
	return &OCRStage{
		Documents:   docs,
		OCRResults:  results,
		Provider:    provider,
		ProcessedBy: defaultProcessedBy,
		Metrics:     metrics,
		Logger:      logger,
	}
}

// Run starts an ocr_results row, recognizes the document and stores the text.
// Documents that need manual entry are marked MANUAL_ENTRY and reported with
// an error wrapping ocr.ErrManualEntry. The extract stage is NOT called.
func (s *OCRStage) Run(ctx context.Context, documentID uuid.UUID) (*OCRStageResult, error) {
	doc, err := s.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "get document")
	}

	format, ok := constants.MapExtToFormat(doc.FileExt)
	if !ok {
		return nil, eris.Wrapf(common.ErrInvalidInput, "unsupported format: %s", doc.FileExt)
	}

	row, err := s.OCRResults.Start(ctx, repository.StartOCR{
		DocumentID:   &doc.ID,
		PatientID:    &doc.PatientID,
		DocumentPath: doc.SourcePath,
		DocumentURL:  doc.DocumentURL,
		Format:       string(format),
		ProcessedBy:  s.ProcessedBy,
	})
	if err != nil {
		return nil, err
	}
	out := &OCRStageResult{OCRResultID: row.ID, Document: doc}

	start := time.Now()
	text, err := s.Provider.Recognize(ctx, ocr.Document{
		Path:        doc.SourcePath,
		Ext:         doc.FileExt,
		ContentHash: doc.ContentHash,
	})
	s.Metrics.recordOCR(ctx, s.Provider.Name(), time.Since(start), err)
	switch {
	case errors.Is(err, ocr.ErrManualEntry):
		if merr := s.OCRResults.MarkManualEntry(ctx, row.ID, err.Error()); merr != nil {
			return out, merr
		}
		return out, eris.Wrapf(err, "document %s", doc.ID)
	case err != nil:
		_ = s.OCRResults.FinishFailure(ctx, row.ID, err.Error())
		return out, eris.Wrap(err, "recognize")
	}
	out.Text = text

	var conf *float32
	if text.HasConfidence {
		c := text.Confidence
		conf = &c
	}
	if err := s.OCRResults.FinishOCR(ctx, row.ID, text.Text, text.Provider, conf); err != nil {
		return out, err
	}
	s.Logger.Debug("ocr stage success",
		zap.String("document_id", doc.ID.String()),
		zap.String("ocr_result_id", row.ID.String()),
		zap.String("method", text.Method),
		zap.Float32("confidence", text.Confidence),
		zap.Bool("cached", text.Cached))
	return out, nil
}
