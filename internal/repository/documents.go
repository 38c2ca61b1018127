package repository

import (
	"context"
	"database/sql"
	"errors"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
)

const documentsTable = "documents"

var documentColumns = []string{
	"id", "patient_id", "source_path", "document_url", "content_hash",
	"filename", "file_ext", "file_size", "uploaded_at",
}

type DocumentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	GetByPatientAndHash(ctx context.Context, patientID uuid.UUID, hash string) (*entity.Document, error)
	Create(ctx context.Context, doc *entity.Document) (*entity.Document, error)
	UpsertByHash(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error)
}

type documentRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewDocumentRepository(db *DB, logger *zap.Logger) DocumentRepository {
	return &documentRepository{db: db, logger: logger}
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return r.getOne(ctx, entsql.EQ("id", id.String()))
}

func (r *documentRepository) GetByPatientAndHash(ctx context.Context, patientID uuid.UUID, hash string) (*entity.Document, error) {
	return r.getOne(ctx, entsql.And(
		entsql.EQ("patient_id", patientID.String()),
		entsql.EQ("content_hash", hash),
	))
}

func (r *documentRepository) getOne(ctx context.Context, where *entsql.Predicate) (*entity.Document, error) {
	b := r.db.builder()
	doc, err := scanDocument(r.db.queryRow(ctx, b.Select(documentColumns...).
		From(b.Table(documentsTable)).
		Where(where)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(common.ErrNotFound, "document")
	}
	if err != nil {
		r.logger.Error("failed to get document", zap.Error(err))
		return nil, eris.Wrap(err, "get document")
	}
	return doc, nil
}

// Create inserts doc, assigning an ID and upload time when they are zero.
func (r *documentRepository) Create(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	row := *doc
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.UploadedAt.IsZero() {
		row.UploadedAt = r.db.timestamp()
	}
	_, err := r.db.exec(ctx, r.db.builder().Insert(documentsTable).
		Columns(documentColumns...).
		Values(
			row.ID.String(), row.PatientID.String(), row.SourcePath, nullString(row.DocumentURL),
			row.ContentHash, row.Filename, row.FileExt, row.FileSize, row.UploadedAt,
		))
	if err != nil {
		r.logger.Error("failed to create document",
			zap.String("patient_id", row.PatientID.String()),
			zap.String("source_path", row.SourcePath),
			zap.String("filename", row.Filename),
			zap.Error(err))
		return nil, eris.Wrap(err, "create document")
	}
	return &row, nil
}

// UpsertByHash returns the existing document with the same patient and
// content hash, or creates it. existed reports which path was taken.
func (r *documentRepository) UpsertByHash(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error) {
	existing, err := r.GetByPatientAndHash(ctx, doc.PatientID, doc.ContentHash)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	row, err := r.Create(ctx, doc)
	if err != nil {
		r.logger.Error("failed to upsert document by hash",
			zap.String("patient_id", doc.PatientID.String()),
			zap.String("source_path", doc.SourcePath),
			zap.Error(err))
		return nil, false, err
	}
	return row, false, nil
}

func scanDocument(s scanner) (*entity.Document, error) {
	var (
		d   entity.Document
		url sql.NullString
	)
	err := s.Scan(&d.ID, &d.PatientID, &d.SourcePath, &url, &d.ContentHash,
		&d.Filename, &d.FileExt, &d.FileSize, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	d.DocumentURL = stringPtr(url)
	return &d, nil
}
