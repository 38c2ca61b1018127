package server

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/export"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

// PrescriptionService implements prescriptions.v1.PrescriptionService. Errors
// are returned unmapped; the gRPC and HTTP layers translate them.
const (
	defaultTrendMonths = 12
	maxTrendMonths     = 120
)

type PrescriptionService struct {
	repos     *repository.Repositories
	processor *pipeline.Processor
	exporter  *export.Service
	extractor *extract.Extractor
	fields    []extract.Field
	minConf   float64
	logger    *zap.Logger
	now       func() time.Time
}

type ServiceOption func(*PrescriptionService)

// WithExtractor overrides the default-rules extractor used by ExtractText.
func WithExtractor(e *extract.Extractor) ServiceOption {
	return func(s *PrescriptionService) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithConfidence sets the default confidence fields and review threshold.
func WithConfidence(fields []extract.Field, minConfidence float64) ServiceOption {
	return func(s *PrescriptionService) {
		s.fields = fields
		if minConfidence > 0 {
			s.minConf = minConfidence
		}
	}
}

func NewPrescriptionService(
	repos *repository.Repositories,
	proc *pipeline.Processor,
	exporter *export.Service,
	logger *zap.Logger,
	opts ...ServiceOption,
) *PrescriptionService {
	if logger == nil {
		logger = zap.L()
	}
	s := &PrescriptionService{
		repos:     repos,
		processor: proc,
		exporter:  exporter,
		extractor: extract.New(nil),
		minConf:   pipeline.DefaultMinConfidence,
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *PrescriptionService) ExtractText(_ context.Context, req *ExtractTextRequest) (*ExtractTextResponse, error) {
	v := common.NewValidator().
		Field("text", req.Text, common.Required, common.Length(1, extract.MaxScanBytes*4)).
		Field("confidence_fields", req.ConfidenceFields, common.ConfidenceFields)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	fields := s.fields
	if len(req.ConfidenceFields) > 0 {
		fields, _ = extract.ParseFields(req.ConfidenceFields)
	}

	res := s.extractor.Extract(req.Text, extract.Options{ConfidenceFields: fields, DefaultDate: req.DefaultDate})
	want := fields
	if want == nil {
		want = extract.DefaultConfidenceFields
	}
	return &ExtractTextResponse{
		Result:      res,
		Missing:     res.Missing(want),
		NeedsReview: res.Confidence < s.minConf || !res.Matched(extract.FieldMedication),
	}, nil
}

func (s *PrescriptionService) ProcessDocument(ctx context.Context, req *ProcessDocumentRequest) (*ProcessDocumentResponse, error) {
	id, err := parseUUID("document_id", req.DocumentID, true)
	if err != nil {
		return nil, err
	}
	logger := common.LoggerFromContext(ctx, s.logger)
	logger.Info("processing document", zap.String("document_id", id.String()))

	out, err := s.processor.ProcessDocument(ctx, id)
	if err != nil {
		logger.Error("process document failed", zap.String("document_id", id.String()), zap.Error(err))
		return nil, err
	}
	return s.toResponse(ctx, out), nil
}

// ProcessText runs extraction over client-supplied text. It backs the
// process-document HTTP endpoint.
func (s *PrescriptionService) ProcessText(ctx context.Context, req pipeline.ProcessTextRequest) (*ProcessDocumentResponse, error) {
	out, err := s.processor.ProcessText(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.toResponse(ctx, out), nil
}

func (s *PrescriptionService) toResponse(ctx context.Context, out *pipeline.Outcome) *ProcessDocumentResponse {
	resp := &ProcessDocumentResponse{
		Success:       out.Status == constants.OCRStatusExtracted || out.Status == constants.OCRStatusManualEntry,
		Status:        string(out.Status),
		Prescription:  out.Prescription,
		ExtractedData: out.Fields,
		NeedsReview:   out.NeedsReview,
	}
	if out.OCRResultID != uuid.Nil {
		row, err := s.repos.OCRResults.GetByID(ctx, out.OCRResultID)
		if err != nil {
			s.logger.Warn("load ocr result", zap.String("ocr_result_id", out.OCRResultID.String()), zap.Error(err))
		} else {
			resp.OCRResult = row
		}
	}
	return resp
}

func (s *PrescriptionService) ListPrescriptions(ctx context.Context, req *ListPrescriptionsRequest) (*ListPrescriptionsResponse, error) {
	v := common.NewValidator().
		Field("status", req.Status, common.PrescriptionStatus(true)).
		Field("from_date", req.FromDate, common.ISODate).
		Field("to_date", req.ToDate, common.ISODate)
	if req.Sort != "" {
		v.Field("sort", req.Sort, common.OneOf("newest", "oldest"))
	}
	v.Field("limit", req.Limit, common.NonNegative, common.Max(500)).
		Field("offset", req.Offset, common.NonNegative)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	patientID, err := parseUUID("patient_id", req.PatientID, false)
	if err != nil {
		return nil, err
	}
	from, err := parseYMD("from_date", req.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseYMD("to_date", req.ToDate)
	if err != nil {
		return nil, err
	}
	if to != nil {
		end := to.Add(24*time.Hour - time.Microsecond)
		to = &end
	}

	filter := repository.ListFilter{
		Search: strings.TrimSpace(req.Search),
		Oldest: req.Sort == "oldest",
		From:   from,
		To:     to,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if patientID != uuid.Nil {
		filter.PatientID = &patientID
	}
	if st, ok := constants.CanonicalizeStatus(req.Status); ok {
		filter.Status = st
	}

	rows, err := s.repos.Prescriptions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ListPrescriptionsResponse{Prescriptions: rows}, nil
}

func (s *PrescriptionService) PrescriptionStats(ctx context.Context, req *PrescriptionStatsRequest) (*PrescriptionStatsResponse, error) {
	limit := req.TopLimit
	if limit <= 0 {
		limit = 5
	}
	stats, err := s.repos.Prescriptions.Stats(ctx)
	if err != nil {
		return nil, err
	}
	top, err := s.repos.Prescriptions.TopMedications(ctx, limit)
	if err != nil {
		return nil, err
	}
	events, err := s.repos.Analytics.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	return &PrescriptionStatsResponse{Stats: stats, TopMedications: top, Events: events}, nil
}

func (s *PrescriptionService) PatientStats(ctx context.Context, _ *PatientStatsRequest) (*PatientStatsResponse, error) {
	stats, err := s.repos.Patients.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &PatientStatsResponse{Stats: stats}, nil
}

// PrescriptionsByMonth counts prescriptions per calendar month (UTC) from the
// start of the month req.Months-1 months back.
func (s *PrescriptionService) PrescriptionsByMonth(ctx context.Context, req *PrescriptionsByMonthRequest) (*PrescriptionsByMonthResponse, error) {
	months := req.Months
	if months == 0 {
		months = defaultTrendMonths
	}
	v := common.NewValidator().Field("months", months, common.IntRange(1, maxTrendMonths))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month()-time.Month(months-1), 1, 0, 0, 0, 0, time.UTC)
	rows, err := s.repos.Prescriptions.CountByMonth(ctx, &since)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []entity.MonthCount{}
	}
	return &PrescriptionsByMonthResponse{Months: rows}, nil
}

func (s *PrescriptionService) MedicationsByStatus(ctx context.Context, _ *MedicationsByStatusRequest) (*MedicationsByStatusResponse, error) {
	rows, err := s.repos.Prescriptions.MedicationsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []entity.StatusCount{}
	}
	return &MedicationsByStatusResponse{Statuses: rows}, nil
}

// CommonMedications lists the medication names the extractor falls back to
// when no label matches.
func (s *PrescriptionService) CommonMedications(_ context.Context, _ *CommonMedicationsRequest) (*CommonMedicationsResponse, error) {
	return &CommonMedicationsResponse{Medications: s.extractor.Rules().Medications()}, nil
}

func (s *PrescriptionService) ExportPrescriptions(ctx context.Context, req *ExportPrescriptionsRequest) (*ExportPrescriptionsResponse, error) {
	v := common.NewValidator().
		Field("from_date", req.FromDate, common.ISODate).
		Field("to_date", req.ToDate, common.ISODate)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	patientID, err := parseUUID("patient_id", req.PatientID, false)
	if err != nil {
		return nil, err
	}
	from, err := parseYMD("from_date", req.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseYMD("to_date", req.ToDate)
	if err != nil {
		return nil, err
	}
	var pid *uuid.UUID
	if patientID != uuid.Nil {
		pid = &patientID
	}

	xlsx, n, err := s.exporter.ExportPrescriptionsXLSX(ctx, pid, from, to)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("export xlsx failed", zap.String("patient_id", req.PatientID), zap.Error(err))
		return nil, err
	}
	return &ExportPrescriptionsResponse{Xlsx: xlsx, Rows: n}, nil
}

// UpdateStatus changes a prescription's status. Synonyms such as "done" are
// accepted.
func (s *PrescriptionService) UpdateStatus(ctx context.Context, id, status string) error {
	pid, err := parseUUID("id", id, true)
	if err != nil {
		return err
	}
	v := common.NewValidator().Field("status", status, common.Required, common.PrescriptionStatus(false))
	if err := common.ValidateAndReturnError(v); err != nil {
		return err
	}
	st, _ := constants.CanonicalizeStatus(status)
	return s.repos.Prescriptions.UpdateStatus(ctx, pid, st)
}

func parseUUID(field, raw string, required bool) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return uuid.Nil, common.InvalidArgumentErrorf("%s is required", field)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("%s must be a UUID", field)
	}
	return id, nil
}

func parseYMD(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if fe := common.ISODate(field, raw); fe != nil {
		return nil, common.InvalidArgumentError(fe.Error())
	}
	t, _ := time.Parse(time.DateOnly, raw)
	return &t, nil
}

// RecentPrescriptions returns the newest prescriptions for the dashboard.
func (s *PrescriptionService) RecentPrescriptions(ctx context.Context, limit int) ([]*entity.Prescription, error) {
	return s.repos.Prescriptions.Recent(ctx, limit)
}

func (s *PrescriptionService) TopMedications(ctx context.Context, limit int) ([]entity.MedicationCount, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.repos.Prescriptions.TopMedications(ctx, limit)
}

// OCRResults lists a patient's OCR results, newest first.
func (s *PrescriptionService) OCRResults(ctx context.Context, patientID string, limit int) ([]*entity.OCRResult, error) {
	id, err := parseUUID("patient_id", patientID, true)
	if err != nil {
		return nil, err
	}
	return s.repos.OCRResults.ListByPatient(ctx, id, limit)
}
