package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
)

const prescriptionsTable = "prescriptions"

var prescriptionColumns = []string{
	"id", "patient_id", "ocr_result_id", "medication", "dosage", "refills", "patient_name",
	"prescribed_date", "status", "document_path", "document_url", "confidence", "needs_review", "created_at",
}

// CreateFromExtractionRequest wraps parameters for storing an extraction.
type CreateFromExtractionRequest struct {
	PatientID    *uuid.UUID
	OCRResultID  *uuid.UUID
	DocumentPath *string
	DocumentURL  *string
	Fields       extract.ExtractionResult
	NeedsReview  bool
}

// ListFilter narrows List. Zero values mean no filtering.
type ListFilter struct {
	PatientID *uuid.UUID
	Search    string
	Status    constants.PrescriptionStatus
	Oldest    bool
	From, To  *time.Time
	Limit     int
	Offset    int
}

type PrescriptionRepository interface {
	CreateFromExtraction(ctx context.Context, req *CreateFromExtractionRequest) (*entity.Prescription, error)
	Create(ctx context.Context, p *entity.Prescription) (*entity.Prescription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Prescription, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.Prescription, error)
	Recent(ctx context.Context, limit int) ([]*entity.Prescription, error)
	Stats(ctx context.Context) (entity.PrescriptionStats, error)
	TopMedications(ctx context.Context, limit int) ([]entity.MedicationCount, error)
	CountByMonth(ctx context.Context, since *time.Time) ([]entity.MonthCount, error)
	MedicationsByStatus(ctx context.Context) ([]entity.StatusCount, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.PrescriptionStatus) error
}

type prescriptionRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewPrescriptionRepository(db *DB, logger *zap.Logger) PrescriptionRepository {
	return &prescriptionRepository{db: db, logger: logger}
}

// CreateFromExtraction stores an extraction as an active prescription. An
// Unknown date becomes today's date.
func (r *prescriptionRepository) CreateFromExtraction(ctx context.Context, req *CreateFromExtractionRequest) (*entity.Prescription, error) {
	f := req.Fields
	conf := f.Confidence
	return r.Create(ctx, &entity.Prescription{
		PatientID:      req.PatientID,
		OCRResultID:    req.OCRResultID,
		Medication:     f.Medication,
		Dosage:         f.Dosage,
		Refills:        f.Refills,
		PatientName:    f.PatientName,
		PrescribedDate: PrescribedDate(f.Date, r.db.now()),
		Status:         string(constants.PrescriptionActive),
		DocumentPath:   req.DocumentPath,
		DocumentURL:    req.DocumentURL,
		Confidence:     &conf,
		NeedsReview:    req.NeedsReview,
	})
}

// Create inserts a prescription, defaulting ID, status, date and timestamp.
func (r *prescriptionRepository) Create(ctx context.Context, p *entity.Prescription) (*entity.Prescription, error) {
	row := *p
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = string(constants.PrescriptionActive)
	} else if s, ok := constants.CanonicalizeStatus(row.Status); ok {
		row.Status = string(s)
	} else {
		return nil, eris.Wrapf(common.ErrInvalidInput, "unknown prescription status %q", row.Status)
	}
	if row.Refills < 0 {
		return nil, eris.Wrap(common.ErrInvalidInput, "refills must not be negative")
	}
	if strings.TrimSpace(row.Medication) == "" {
		row.Medication = extract.Unknown
	}
	if strings.TrimSpace(row.Dosage) == "" {
		row.Dosage = extract.Unknown
	}
	if row.PatientName == "" {
		row.PatientName = extract.Unknown
	}
	row.PrescribedDate = PrescribedDate(row.PrescribedDate, r.db.now())
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.db.timestamp()
	}

	_, err := r.db.exec(ctx, r.db.builder().Insert(prescriptionsTable).
		Columns(prescriptionColumns...).
		Values(
			row.ID.String(), nullUUID(row.PatientID), nullUUID(row.OCRResultID), row.Medication,
			row.Dosage, row.Refills, row.PatientName, row.PrescribedDate, row.Status,
			nullString(row.DocumentPath), nullString(row.DocumentURL), nullFloat(row.Confidence),
			row.NeedsReview, row.CreatedAt,
		))
	if err != nil {
		r.logger.Error("failed to create prescription", zap.String("medication", row.Medication), zap.Error(err))
		return nil, eris.Wrap(err, "create prescription")
	}
	r.logger.Info("prescription created",
		zap.String("prescription_id", row.ID.String()),
		zap.String("medication", row.Medication),
		zap.Bool("needs_review", row.NeedsReview))
	return &row, nil
}

func (r *prescriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Prescription, error) {
	b := r.db.builder()
	p, err := scanPrescription(r.db.queryRow(ctx, b.Select(prescriptionColumns...).
		From(b.Table(prescriptionsTable)).
		Where(entsql.EQ("id", id.String()))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(common.ErrNotFound, "prescription %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "get prescription")
	}
	return p, nil
}

// List searches prescriptions. Search matches medication and patient name
// case-insensitively, and the prescription or patient ID exactly.
func (r *prescriptionRepository) List(ctx context.Context, filter ListFilter) ([]*entity.Prescription, error) {
	b := r.db.builder()
	sel := b.Select(prescriptionColumns...).From(b.Table(prescriptionsTable))

	var preds []*entsql.Predicate
	if filter.PatientID != nil {
		preds = append(preds, entsql.EQ("patient_id", filter.PatientID.String()))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		or := []*entsql.Predicate{
			entsql.ContainsFold("medication", term),
			entsql.ContainsFold("patient_name", term),
		}
		if id, err := uuid.Parse(term); err == nil {
			or = append(or, entsql.EQ("id", id.String()), entsql.EQ("patient_id", id.String()))
		}
		preds = append(preds, entsql.Or(or...))
	}
	if filter.Status != "" {
		preds = append(preds, entsql.EQ("status", string(filter.Status)))
	}
	if filter.From != nil {
		preds = append(preds, entsql.GTE("created_at", filter.From.UTC()))
	}
	if filter.To != nil {
		preds = append(preds, entsql.LTE("created_at", filter.To.UTC()))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if filter.Oldest {
		sel.OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	} else {
		sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	}
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sel.Offset(filter.Offset)
	}

	rows, err := r.db.query(ctx, sel)
	if err != nil {
		r.logger.Error("failed to list prescriptions", zap.Error(err))
		return nil, eris.Wrap(err, "list prescriptions")
	}
	defer rows.Close() //nolint:errcheck

	result := make([]*entity.Prescription, 0)
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan prescription")
		}
		result = append(result, p)
	}
	return result, eris.Wrap(rows.Err(), "list prescriptions")
}

// Recent returns the newest prescriptions.
func (r *prescriptionRepository) Recent(ctx context.Context, limit int) ([]*entity.Prescription, error) {
	if limit <= 0 {
		limit = 5
	}
	return r.List(ctx, ListFilter{Limit: limit})
}

func (r *prescriptionRepository) Stats(ctx context.Context) (entity.PrescriptionStats, error) {
	var stats entity.PrescriptionStats
	b := r.db.builder()
	rows, err := r.db.query(ctx, b.Select("status", entsql.Count("*")).
		From(b.Table(prescriptionsTable)).
		GroupBy("status"))
	if err != nil {
		r.logger.Error("failed to count prescriptions", zap.Error(err))
		return stats, eris.Wrap(err, "prescription stats")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, eris.Wrap(err, "scan prescription stats")
		}
		stats.Total += n
		switch constants.PrescriptionStatus(status) {
		case constants.PrescriptionActive:
			stats.Active = n
		case constants.PrescriptionCompleted:
			stats.Completed = n
		case constants.PrescriptionExpired:
			stats.Expired = n
		}
	}
	return stats, eris.Wrap(rows.Err(), "prescription stats")
}

// TopMedications counts prescriptions per medication, most frequent first.
// Unknown medications are left out.
func (r *prescriptionRepository) TopMedications(ctx context.Context, limit int) ([]entity.MedicationCount, error) {
	b := r.db.builder()
	sel := b.Select("medication", entsql.As(entsql.Count("*"), "n")).
		From(b.Table(prescriptionsTable)).
		Where(entsql.NEQ("medication", extract.Unknown)).
		GroupBy("medication").
		OrderBy(entsql.Desc("n"), entsql.Asc("medication"))
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		r.logger.Error("failed to count medications", zap.Error(err))
		return nil, eris.Wrap(err, "top medications")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]entity.MedicationCount, 0)
	for rows.Next() {
		var mc entity.MedicationCount
		if err := rows.Scan(&mc.Medication, &mc.Count); err != nil {
			return nil, eris.Wrap(err, "scan medication count")
		}
		out = append(out, mc)
	}
	return out, eris.Wrap(rows.Err(), "top medications")
}

// CountByMonth counts prescriptions per UTC calendar month of created_at,
// oldest month first. A nil since counts every prescription.
func (r *prescriptionRepository) CountByMonth(ctx context.Context, since *time.Time) ([]entity.MonthCount, error) {
	b := r.db.builder()
	sel := b.Select("created_at").From(b.Table(prescriptionsTable))
	if since != nil {
		sel.Where(entsql.GTE("created_at", since.UTC()))
	}
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		r.logger.Error("failed to count prescriptions by month", zap.Error(err))
		return nil, eris.Wrap(err, "prescriptions by month")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int)
	for rows.Next() {
		var created time.Time
		if err := rows.Scan(&created); err != nil {
			return nil, eris.Wrap(err, "scan prescription month")
		}
		counts[created.UTC().Format("2006-01")]++
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "prescriptions by month")
	}

	out := make([]entity.MonthCount, 0, len(counts))
	for month, n := range counts {
		out = append(out, entity.MonthCount{Month: month, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// MedicationsByStatus counts distinct medications per prescription status.
// Known statuses come first in their canonical order; Unknown medications
// are left out.
func (r *prescriptionRepository) MedicationsByStatus(ctx context.Context) ([]entity.StatusCount, error) {
	b := r.db.builder()
	rows, err := r.db.query(ctx, b.Select("status", "medication").
		From(b.Table(prescriptionsTable)).
		Where(entsql.NEQ("medication", extract.Unknown)))
	if err != nil {
		r.logger.Error("failed to count medications by status", zap.Error(err))
		return nil, eris.Wrap(err, "medications by status")
	}
	defer rows.Close() //nolint:errcheck

	meds := make(map[string]map[string]struct{})
	for rows.Next() {
		var status, medication string
		if err := rows.Scan(&status, &medication); err != nil {
			return nil, eris.Wrap(err, "scan medication status")
		}
		if meds[status] == nil {
			meds[status] = make(map[string]struct{})
		}
		meds[status][strings.ToLower(medication)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "medications by status")
	}

	statuses := constants.PrescriptionStatuses()
	rank := func(status string) int {
		for i, st := range statuses {
			if st == status {
				return i
			}
		}
		return len(statuses)
	}
	out := make([]entity.StatusCount, 0, len(meds))
	for status, set := range meds {
		out = append(out, entity.StatusCount{Status: status, Count: len(set)})
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := rank(out[i].Status), rank(out[j].Status); ri != rj {
			return ri < rj
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (r *prescriptionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.PrescriptionStatus) error {
	res, err := r.db.exec(ctx, r.db.builder().Update(prescriptionsTable).
		Set("status", string(status)).
		Where(entsql.EQ("id", id.String())))
	if err != nil {
		r.logger.Error("failed to update prescription status", zap.String("prescription_id", id.String()), zap.Error(err))
		return eris.Wrap(err, "update prescription status")
	}
	if err := checkRowsAffected(res, "prescription", id); err != nil {
		return err
	}
	r.logger.Info("prescription status updated", zap.String("prescription_id", id.String()), zap.String("status", string(status)))
	return nil
}

func scanPrescription(s scanner) (*entity.Prescription, error) {
	var (
		p                entity.Prescription
		patientID, ocrID uuid.NullUUID
		docPath, docURL  sql.NullString
		conf             sql.NullFloat64
	)
	err := s.Scan(&p.ID, &patientID, &ocrID, &p.Medication, &p.Dosage, &p.Refills, &p.PatientName,
		&p.PrescribedDate, &p.Status, &docPath, &docURL, &conf, &p.NeedsReview, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.PatientID = uuidPtr(patientID)
	p.OCRResultID = uuidPtr(ocrID)
	p.DocumentPath = stringPtr(docPath)
	p.DocumentURL = stringPtr(docURL)
	p.Confidence = floatPtr(conf)
	return &p, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006", "1/2/2006", "01-02-2006", "1-2-2006",
	"01/02/06", "1/2/06", "01-02-06", "1-2-06",
}

// PrescribedDate normalizes an extracted date to YYYY-MM-DD. Unknown or empty
// dates become the date of now; unparseable text is kept as written.
func PrescribedDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == extract.Unknown {
		return now.Format(time.DateOnly)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return raw
}
