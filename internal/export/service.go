package export

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

const sheet = "Prescriptions"

var headers = []string{
	"Prescribed Date",
	"Patient",
	"Medication",
	"Dosage",
	"Refills",
	"Status",
	"Confidence",
	"Needs Review",
	"Document",
	"Created At",
}

// Service produces XLSX bytes for prescription exports.
type Service struct {
	prescriptions repository.PrescriptionRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(prescriptions repository.PrescriptionRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{prescriptions: prescriptions, logger: logger.Named("export"), now: time.Now}
}

// Window returns the inclusive date window used for an export, truncated to
// whole UTC days. If only from is provided -> from..today.
// If only to is provided   -> beginning..to.
// If neither is provided   -> everything.
func (s *Service) Window(from, to *time.Time) (*time.Time, *time.Time) {
	var fromDate, toDate *time.Time
	if from != nil {
		f := day(*from)
		fromDate = &f
	}
	if to != nil {
		t := day(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := day(s.now())
		toDate = &t
	}
	return fromDate, toDate
}

// ExportPrescriptionsXLSX returns a workbook of the prescriptions created in
// the window, for one patient or for all when patientID is nil.
func (s *Service) ExportPrescriptionsXLSX(ctx context.Context, patientID *uuid.UUID, from, to *time.Time) ([]byte, int, error) {
	start := time.Now()
	fromDate, toDate := s.Window(from, to)
	if fromDate != nil && toDate != nil && toDate.Before(*fromDate) {
		return nil, 0, eris.New("export: to is before from")
	}

	filter := repository.ListFilter{PatientID: patientID, From: fromDate, Oldest: true}
	if toDate != nil {
		end := toDate.Add(24*time.Hour - time.Microsecond)
		filter.To = &end
	}
	recs, err := s.prescriptions.List(ctx, filter)
	if err != nil {
		return nil, 0, eris.Wrap(err, "query prescriptions")
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("close workbook", zap.Error(err))
		}
	}()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, 0, eris.Wrap(err, "xlsx sheet")
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.PrescribedDate)
		write(2, r.PatientName)
		write(3, r.Medication)
		write(4, r.Dosage)
		write(5, r.Refills)
		write(6, r.Status)
		if r.Confidence != nil {
			write(7, *r.Confidence)
		}
		if r.NeedsReview {
			write(8, "yes")
		} else {
			write(8, "no")
		}
		doc := ""
		switch {
		case r.DocumentPath != nil:
			doc = *r.DocumentPath
		case r.DocumentURL != nil:
			doc = *r.DocumentURL
		}
		write(9, truncate(doc, 255))
		write(10, r.CreatedAt.UTC().Format(time.RFC3339))

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 14) // date
	_ = f.SetColWidth(sheet, "B", "C", 26) // patient, medication
	_ = f.SetColWidth(sheet, "D", "D", 36) // dosage
	_ = f.SetColWidth(sheet, "E", "H", 12)
	_ = f.SetColWidth(sheet, "I", "I", 60) // path
	_ = f.SetColWidth(sheet, "J", "J", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, eris.Wrap(err, "xlsx write")
	}

	fields := []zap.Field{
		zap.Int("rows", len(recs)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	}
	if patientID != nil {
		fields = append(fields, zap.String("patient_id", patientID.String()))
	}
	s.logger.Info("export xlsx ok", fields...)
	return buf.Bytes(), len(recs), nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
