package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
)

const ocrResultsTable = "ocr_results"

var ocrResultColumns = []string{
	"id", "document_id", "patient_id", "document_path", "document_url", "format",
	"status", "raw_text", "extracted_data", "ocr_confidence", "extraction_confidence",
	"needs_review", "provider", "processed_by", "error_message", "started_at", "finished_at",
}

// StartOCR describes a new recognition attempt.
type StartOCR struct {
	DocumentID   *uuid.UUID
	PatientID    *uuid.UUID
	DocumentPath string
	DocumentURL  *string
	Format       string
	ProcessedBy  string
}

type OCRResultRepository interface {
	Start(ctx context.Context, req StartOCR) (*entity.OCRResult, error)
	FinishOCR(ctx context.Context, id uuid.UUID, rawText, provider string, confidence *float32) error
	FinishExtraction(ctx context.Context, id uuid.UUID, data json.RawMessage, confidence float64, needsReview bool) error
	FinishFailure(ctx context.Context, id uuid.UUID, message string) error
	MarkManualEntry(ctx context.Context, id uuid.UUID, reason string) error
	Create(ctx context.Context, res *entity.OCRResult) (*entity.OCRResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.OCRResult, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*entity.OCRResult, error)
}

type ocrResultRepository struct {
	db  *DB
	log *zap.Logger
}

func NewOCRResultRepository(db *DB, log *zap.Logger) OCRResultRepository {
	return &ocrResultRepository{db: db, log: log}
}

func (r *ocrResultRepository) Start(ctx context.Context, req StartOCR) (*entity.OCRResult, error) {
	res := &entity.OCRResult{
		DocumentID:   req.DocumentID,
		PatientID:    req.PatientID,
		DocumentPath: req.DocumentPath,
		DocumentURL:  req.DocumentURL,
		Format:       req.Format,
		Status:       string(constants.OCRStatusRunning),
		ProcessedBy:  req.ProcessedBy,
	}
	row, err := r.Create(ctx, res)
	if err != nil {
		return nil, err
	}
	r.log.Info("ocr_result started",
		zap.String("ocr_result_id", row.ID.String()),
		zap.String("document_path", row.DocumentPath),
		zap.String("format", row.Format))
	return row, nil
}

// Create inserts a complete row. Zero ID and StartedAt are filled in.
func (r *ocrResultRepository) Create(ctx context.Context, res *entity.OCRResult) (*entity.OCRResult, error) {
	row := *res
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = r.db.timestamp()
	}
	if row.ProcessedBy == "" {
		row.ProcessedBy = "document-processor"
	}
	var ocrConf any
	if row.OCRConfidence != nil {
		ocrConf = float64(*row.OCRConfidence)
	}
	var finished any
	if row.FinishedAt != nil {
		finished = *row.FinishedAt
	}
	_, err := r.db.exec(ctx, r.db.builder().Insert(ocrResultsTable).
		Columns(ocrResultColumns...).
		Values(
			row.ID.String(), nullUUID(row.DocumentID), nullUUID(row.PatientID), row.DocumentPath,
			nullString(row.DocumentURL), row.Format, row.Status, nullString(row.RawText),
			nullJSON(row.ExtractedData), ocrConf, nullFloat(row.ExtractionConfidence),
			row.NeedsReview, nullString(row.Provider), row.ProcessedBy, nullString(row.ErrorMessage),
			row.StartedAt, finished,
		))
	if err != nil {
		r.log.Error("ocr_result insert failed", zap.String("document_path", row.DocumentPath), zap.Error(err))
		return nil, eris.Wrap(err, "create ocr result")
	}
	return &row, nil
}

func (r *ocrResultRepository) FinishOCR(ctx context.Context, id uuid.UUID, rawText, provider string, confidence *float32) error {
	u := r.db.builder().Update(ocrResultsTable).
		Set("raw_text", rawText).
		Set("provider", provider).
		Set("status", string(constants.OCRStatusOCROK))
	if confidence != nil {
		u.Set("ocr_confidence", float64(*confidence))
	}
	if err := r.update(ctx, id, u); err != nil {
		r.log.Error("ocr_result finish(OCR_OK) failed", zap.String("ocr_result_id", id.String()), zap.Error(err))
		return err
	}
	r.log.Info("ocr_result finished (OCR_OK)", zap.String("ocr_result_id", id.String()), zap.String("provider", provider))
	return nil
}

func (r *ocrResultRepository) FinishExtraction(ctx context.Context, id uuid.UUID, data json.RawMessage, confidence float64, needsReview bool) error {
	u := r.db.builder().Update(ocrResultsTable).
		Set("extracted_data", nullJSON(data)).
		Set("extraction_confidence", confidence).
		Set("needs_review", needsReview).
		Set("status", string(constants.OCRStatusExtracted)).
		Set("finished_at", r.db.timestamp())
	if err := r.update(ctx, id, u); err != nil {
		r.log.Error("ocr_result finish(EXTRACTED) failed", zap.String("ocr_result_id", id.String()), zap.Error(err))
		return err
	}
	r.log.Info("ocr_result finished (EXTRACTED)",
		zap.String("ocr_result_id", id.String()),
		zap.Float64("confidence", confidence),
		zap.Bool("needs_review", needsReview))
	return nil
}

func (r *ocrResultRepository) FinishFailure(ctx context.Context, id uuid.UUID, message string) error {
	u := r.db.builder().Update(ocrResultsTable).
		Set("status", string(constants.OCRStatusFailed)).
		Set("error_message", message).
		Set("finished_at", r.db.timestamp())
	if err := r.update(ctx, id, u); err != nil {
		r.log.Error("ocr_result finish(FAILED) failed", zap.String("ocr_result_id", id.String()), zap.Error(err))
		return err
	}
	r.log.Warn("ocr_result finished (FAILED)", zap.String("ocr_result_id", id.String()), zap.String("error", message))
	return nil
}

func (r *ocrResultRepository) MarkManualEntry(ctx context.Context, id uuid.UUID, reason string) error {
	u := r.db.builder().Update(ocrResultsTable).
		Set("status", string(constants.OCRStatusManualEntry)).
		Set("needs_review", true).
		Set("error_message", reason).
		Set("finished_at", r.db.timestamp())
	if err := r.update(ctx, id, u); err != nil {
		r.log.Error("ocr_result finish(MANUAL_ENTRY) failed", zap.String("ocr_result_id", id.String()), zap.Error(err))
		return err
	}
	r.log.Info("ocr_result needs manual entry", zap.String("ocr_result_id", id.String()), zap.String("reason", reason))
	return nil
}

func (r *ocrResultRepository) update(ctx context.Context, id uuid.UUID, u *entsql.UpdateBuilder) error {
	res, err := r.db.exec(ctx, u.Where(entsql.EQ("id", id.String())))
	if err != nil {
		return eris.Wrapf(err, "update ocr result %s", id)
	}
	return checkRowsAffected(res, "ocr result", id)
}

func (r *ocrResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.OCRResult, error) {
	b := r.db.builder()
	res, err := scanOCRResult(r.db.queryRow(ctx, b.Select(ocrResultColumns...).
		From(b.Table(ocrResultsTable)).
		Where(entsql.EQ("id", id.String()))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(common.ErrNotFound, "ocr result %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "get ocr result")
	}
	return res, nil
}

// ListByPatient returns the patient's results, newest first. limit <= 0 means all.
func (r *ocrResultRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*entity.OCRResult, error) {
	b := r.db.builder()
	sel := b.Select(ocrResultColumns...).
		From(b.Table(ocrResultsTable)).
		Where(entsql.EQ("patient_id", patientID.String())).
		OrderBy(entsql.Desc("started_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		r.log.Error("failed to list ocr results", zap.String("patient_id", patientID.String()), zap.Error(err))
		return nil, eris.Wrap(err, "list ocr results")
	}
	defer rows.Close() //nolint:errcheck

	var out []*entity.OCRResult
	for rows.Next() {
		res, err := scanOCRResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan ocr result")
		}
		out = append(out, res)
	}
	return out, eris.Wrap(rows.Err(), "list ocr results")
}

func scanOCRResult(s scanner) (*entity.OCRResult, error) {
	var (
		res                      entity.OCRResult
		docID, patientID         uuid.NullUUID
		url, raw, provider, emsg sql.NullString
		data                     []byte
		ocrConf, extConf         sql.NullFloat64
		finished                 sql.NullTime
	)
	err := s.Scan(&res.ID, &docID, &patientID, &res.DocumentPath, &url, &res.Format,
		&res.Status, &raw, &data, &ocrConf, &extConf,
		&res.NeedsReview, &provider, &res.ProcessedBy, &emsg, &res.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	res.DocumentID = uuidPtr(docID)
	res.PatientID = uuidPtr(patientID)
	res.DocumentURL = stringPtr(url)
	res.RawText = stringPtr(raw)
	res.Provider = stringPtr(provider)
	res.ErrorMessage = stringPtr(emsg)
	if len(data) > 0 {
		res.ExtractedData = json.RawMessage(data)
	}
	if ocrConf.Valid {
		c := float32(ocrConf.Float64)
		res.OCRConfidence = &c
	}
	res.ExtractionConfidence = floatPtr(extConf)
	res.FinishedAt = timePtr(finished)
	return &res, nil
}

func checkRowsAffected(res sql.Result, what string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "%s %s: rows affected", what, id)
	}
	if n == 0 {
		return eris.Wrapf(common.ErrNotFound, "%s %s", what, id)
	}
	return nil
}
