package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestDB(t *testing.T) (*DB, *Repositories) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	db, err := OpenSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &stepClock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	db.now = clock.now
	require.NoError(t, db.Migrate(ctx))
	return db, NewRepositories(db, logger)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, _ := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.HealthCheck(context.Background(), time.Second))
	assert.Equal(t, "sqlite3", db.Dialect())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestPatients(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	email := "jane@example.com"
	jane, err := repos.Patients.Create(ctx, "  Jane Doe ", &email)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", jane.Name)

	_, err = repos.Patients.Create(ctx, "Adam Smith", nil)
	require.NoError(t, err)

	got, err := repos.Patients.GetByID(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, jane.ID, got.ID)
	require.NotNil(t, got.Email)
	assert.Equal(t, email, *got.Email)
	assert.True(t, jane.CreatedAt.Equal(got.CreatedAt))

	_, err = repos.Patients.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)

	list, err := repos.Patients.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Adam Smith", list[0].Name)
	assert.Nil(t, list[0].Email)

	ok, err := repos.Patients.Exists(ctx, jane.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.Patients.Exists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repos.Patients.Create(ctx, "   ", nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestGetOrCreatePatientByName(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	p, created, err := repos.Patients.GetOrCreateByName(ctx, "John Smith")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repos.Patients.GetOrCreateByName(ctx, "john smith")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)

	_, _, err = repos.Patients.GetOrCreateByName(ctx, "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestDocumentsUpsertByHash(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	p1, err := repos.Patients.Create(ctx, "P One", nil)
	require.NoError(t, err)
	p2, err := repos.Patients.Create(ctx, "P Two", nil)
	require.NoError(t, err)

	doc := &entity.Document{
		PatientID:   p1.ID,
		SourcePath:  "/in/rx.png",
		ContentHash: "abc123",
		Filename:    "rx.png",
		FileExt:     "png",
		FileSize:    42,
	}
	first, existed, err := repos.Documents.UpsertByHash(ctx, doc)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEqual(t, uuid.Nil, first.ID)

	second, existed, err := repos.Documents.UpsertByHash(ctx, doc)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)

	other := *doc
	other.PatientID = p2.ID
	third, existed, err := repos.Documents.UpsertByHash(ctx, &other)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEqual(t, first.ID, third.ID)

	got, err := repos.Documents.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "/in/rx.png", got.SourcePath)
	assert.Equal(t, 42, got.FileSize)
	assert.Nil(t, got.DocumentURL)

	_, err = repos.Documents.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)

	orphan := *doc
	orphan.PatientID = uuid.New()
	_, err = repos.Documents.Create(ctx, &orphan)
	assert.Error(t, err, "foreign key on patient_id")
}

func TestOCRResultLifecycle(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	p, err := repos.Patients.Create(ctx, "Jane", nil)
	require.NoError(t, err)

	res, err := repos.OCRResults.Start(ctx, StartOCR{
		PatientID:    &p.ID,
		DocumentPath: "/in/rx.png",
		Format:       string(constants.FormatImage),
	})
	require.NoError(t, err)
	assert.Equal(t, string(constants.OCRStatusRunning), res.Status)
	assert.Equal(t, "document-processor", res.ProcessedBy)

	conf := float32(0.8)
	require.NoError(t, repos.OCRResults.FinishOCR(ctx, res.ID, "Medication: Lisinopril", "tesseract", &conf))

	data := json.RawMessage(`{"medication":"Lisinopril"}`)
	require.NoError(t, repos.OCRResults.FinishExtraction(ctx, res.ID, data, 0.5, true))

	got, err := repos.OCRResults.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.OCRStatusExtracted), got.Status)
	require.NotNil(t, got.RawText)
	assert.Equal(t, "Medication: Lisinopril", *got.RawText)
	require.NotNil(t, got.Provider)
	assert.Equal(t, "tesseract", *got.Provider)
	require.NotNil(t, got.OCRConfidence)
	assert.InDelta(t, 0.8, *got.OCRConfidence, 1e-6)
	require.NotNil(t, got.ExtractionConfidence)
	assert.InDelta(t, 0.5, *got.ExtractionConfidence, 1e-9)
	assert.True(t, got.NeedsReview)
	assert.JSONEq(t, string(data), string(got.ExtractedData))
	require.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.DocumentID)

	err = repos.OCRResults.FinishFailure(ctx, uuid.New(), "boom")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOCRResultManualEntryAndList(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	p, err := repos.Patients.Create(ctx, "Jane", nil)
	require.NoError(t, err)

	older, err := repos.OCRResults.Start(ctx, StartOCR{PatientID: &p.ID, DocumentPath: "a.pdf", Format: "PDF"})
	require.NoError(t, err)
	require.NoError(t, repos.OCRResults.MarkManualEntry(ctx, older.ID, "pdf requires manual entry"))

	newer, err := repos.OCRResults.Start(ctx, StartOCR{PatientID: &p.ID, DocumentPath: "b.png", Format: "IMAGE"})
	require.NoError(t, err)
	require.NoError(t, repos.OCRResults.FinishFailure(ctx, newer.ID, "tesseract: exit 1"))

	_, err = repos.OCRResults.Start(ctx, StartOCR{DocumentPath: "c.png", Format: "IMAGE"})
	require.NoError(t, err)

	list, err := repos.OCRResults.ListByPatient(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, string(constants.OCRStatusFailed), list[0].Status)
	require.NotNil(t, list[0].ErrorMessage)
	assert.Equal(t, "tesseract: exit 1", *list[0].ErrorMessage)
	assert.Equal(t, string(constants.OCRStatusManualEntry), list[1].Status)
	assert.True(t, list[1].NeedsReview)

	limited, err := repos.OCRResults.ListByPatient(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCreateFromExtraction(t *testing.T) {
	ctx := context.Background()
	db, repos := newTestDB(t)

	p, err := repos.Patients.Create(ctx, "John Smith", nil)
	require.NoError(t, err)

	fields := extract.Extract("Medication: Lisinopril\nDosage: 10mg\nRefills: 3\nDate: 01/15/2024")
	rx, err := repos.Prescriptions.CreateFromExtraction(ctx, &CreateFromExtractionRequest{
		PatientID: &p.ID,
		Fields:    fields,
	})
	require.NoError(t, err)
	assert.Equal(t, "Lisinopril", rx.Medication)
	assert.Equal(t, "10mg", rx.Dosage)
	assert.Equal(t, 3, rx.Refills)
	assert.Equal(t, "2024-01-15", rx.PrescribedDate)
	assert.Equal(t, string(constants.PrescriptionActive), rx.Status)
	require.NotNil(t, rx.Confidence)
	assert.InDelta(t, 1.0, *rx.Confidence, 1e-9)

	unknown, err := repos.Prescriptions.CreateFromExtraction(ctx, &CreateFromExtractionRequest{
		Fields:      extract.Extract("nothing to see"),
		NeedsReview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, extract.Unknown, unknown.Medication)
	today := db.now().Format(time.DateOnly)
	assert.Equal(t, today, unknown.PrescribedDate)
	assert.True(t, unknown.NeedsReview)

	got, err := repos.Prescriptions.GetByID(ctx, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, rx.Medication, got.Medication)
	require.NotNil(t, got.PatientID)
	assert.Equal(t, p.ID, *got.PatientID)
}

func TestCreatePrescriptionValidation(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	_, err := repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "Aspirin", Status: "pending"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "Aspirin", Refills: -1})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	rx, err := repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "Aspirin", Status: "done"})
	require.NoError(t, err)
	assert.Equal(t, string(constants.PrescriptionCompleted), rx.Status)
	assert.Equal(t, extract.Unknown, rx.Dosage)
	assert.Equal(t, extract.Unknown, rx.PatientName)
}

func seedPrescriptions(t *testing.T, repos *Repositories) (*entity.Patient, []*entity.Prescription) {
	t.Helper()
	ctx := context.Background()
	p, err := repos.Patients.Create(ctx, "Jane", nil)
	require.NoError(t, err)

	seed := []entity.Prescription{
		{PatientID: &p.ID, Medication: "Lisinopril", Dosage: "10mg", PatientName: "Jane Doe"},
		{Medication: "Metformin", Dosage: "500mg", Status: "completed", PatientName: "John Roe"},
		{PatientID: &p.ID, Medication: "Lisinopril", Dosage: "20mg", Status: "expired", PatientName: "Jane Doe"},
		{Medication: "Unknown", Dosage: "Unknown"},
	}
	var out []*entity.Prescription
	for i := range seed {
		rx, err := repos.Prescriptions.Create(ctx, &seed[i])
		require.NoError(t, err)
		out = append(out, rx)
	}
	return p, out
}

func TestListPrescriptions(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)
	p, seeded := seedPrescriptions(t, repos)

	all, err := repos.Prescriptions.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, seeded[3].ID, all[0].ID, "newest first")

	oldest, err := repos.Prescriptions.List(ctx, ListFilter{Oldest: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, seeded[0].ID, oldest[0].ID)

	bySearch, err := repos.Prescriptions.List(ctx, ListFilter{Search: "lisino"})
	require.NoError(t, err)
	assert.Len(t, bySearch, 2)

	byName, err := repos.Prescriptions.List(ctx, ListFilter{Search: "ROE"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "Metformin", byName[0].Medication)

	byPatientID, err := repos.Prescriptions.List(ctx, ListFilter{Search: p.ID.String()})
	require.NoError(t, err)
	assert.Len(t, byPatientID, 2)

	byID, err := repos.Prescriptions.List(ctx, ListFilter{Search: seeded[1].ID.String()})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, seeded[1].ID, byID[0].ID)

	byStatus, err := repos.Prescriptions.List(ctx, ListFilter{Status: constants.PrescriptionExpired})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "20mg", byStatus[0].Dosage)

	byPatient, err := repos.Prescriptions.List(ctx, ListFilter{PatientID: &p.ID, Status: constants.PrescriptionActive})
	require.NoError(t, err)
	require.Len(t, byPatient, 1)

	from := seeded[1].CreatedAt
	to := seeded[2].CreatedAt
	window, err := repos.Prescriptions.List(ctx, ListFilter{From: &from, To: &to, Oldest: true})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, seeded[1].ID, window[0].ID)

	none, err := repos.Prescriptions.List(ctx, ListFilter{Search: "zzz"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	recent, err := repos.Prescriptions.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, seeded[3].ID, recent[0].ID)
}

func TestPrescriptionStatsAndTopMedications(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)
	_, seeded := seedPrescriptions(t, repos)

	stats, err := repos.Prescriptions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.PrescriptionStats{Total: 4, Active: 2, Completed: 1, Expired: 1}, stats)

	top, err := repos.Prescriptions.TopMedications(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []entity.MedicationCount{
		{Medication: "Lisinopril", Count: 2},
		{Medication: "Metformin", Count: 1},
	}, top)

	require.NoError(t, repos.Prescriptions.UpdateStatus(ctx, seeded[0].ID, constants.PrescriptionCompleted))
	stats, err = repos.Prescriptions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.Completed)

	err = repos.Prescriptions.UpdateStatus(ctx, uuid.New(), constants.PrescriptionExpired)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPatientStats(t *testing.T) {
	ctx := context.Background()
	db, repos := newTestDB(t)
	jane, _ := seedPrescriptions(t, repos)

	clock := db.now
	db.now = func() time.Time { return time.Date(2024, 2, 20, 12, 0, 0, 0, time.UTC) }
	_, err := repos.Patients.Create(ctx, "Last Month", nil)
	require.NoError(t, err)
	db.now = clock

	_, err = repos.Patients.Create(ctx, "No Prescriptions", nil)
	require.NoError(t, err)

	stats, err := repos.Patients.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.PatientStats{Total: 3, Active: 1, NewThisMonth: 2}, stats)

	// a second active prescription for the same patient is counted once
	_, err = repos.Prescriptions.Create(ctx, &entity.Prescription{PatientID: &jane.ID, Medication: "Metformin"})
	require.NoError(t, err)
	stats, err = repos.Patients.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
}

func TestPrescriptionsByMonth(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)
	seedPrescriptions(t, repos)

	_, err := repos.Prescriptions.Create(ctx, &entity.Prescription{
		Medication: "Losartan",
		CreatedAt:  time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	months, err := repos.Prescriptions.CountByMonth(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []entity.MonthCount{
		{Month: "2024-01", Count: 1},
		{Month: "2024-03", Count: 4},
	}, months)

	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	months, err = repos.Prescriptions.CountByMonth(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, []entity.MonthCount{{Month: "2024-03", Count: 4}}, months)
}

func TestMedicationsByStatus(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)
	seedPrescriptions(t, repos)

	_, err := repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "Metformin"})
	require.NoError(t, err)
	_, err = repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "lisinopril"})
	require.NoError(t, err)

	got, err := repos.Prescriptions.MedicationsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entity.StatusCount{
		{Status: "active", Count: 2},
		{Status: "completed", Count: 1},
		{Status: "expired", Count: 1},
	}, got)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	_, repos := newTestDB(t)

	ev, err := repos.Analytics.Record(ctx, EventDocumentProcessed, map[string]any{"processing_time_ms": 12}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"processing_time_ms":12}`, string(ev.EventData))

	user := "u1"
	_, err = repos.Analytics.Record(ctx, EventDocumentProcessed, nil, &user)
	require.NoError(t, err)
	_, err = repos.Analytics.Record(ctx, "export", nil, nil)
	require.NoError(t, err)

	counts, err := repos.Analytics.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{EventDocumentProcessed: 2, "export": 1}, counts)
}

func TestPrescribedDate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in, want string
	}{
		{"Unknown", "2024-06-01"},
		{"", "2024-06-01"},
		{"01/15/2024", "2024-01-15"},
		{"1/5/2024", "2024-01-05"},
		{"03-20-24", "2024-03-20"},
		{"2023-12-31", "2023-12-31"},
		{"next tuesday", "next tuesday"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, PrescribedDate(tt.in, now))
		})
	}
}
