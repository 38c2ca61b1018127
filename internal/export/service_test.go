package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

var fixedNow = time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *repository.Repositories) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	db, err := repository.OpenSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repos := repository.NewRepositories(db, logger)

	svc := NewService(repos.Prescriptions, logger)
	svc.now = func() time.Time { return fixedNow }
	return svc, repos
}

func seed(t *testing.T, repos *repository.Repositories) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	jane, err := repos.Patients.Create(ctx, "Jane Doe", nil)
	require.NoError(t, err)
	adam, err := repos.Patients.Create(ctx, "Adam Smith", nil)
	require.NoError(t, err)

	path := "/scans/lisinopril.png"
	conf := 0.9
	rows := []*entity.Prescription{
		{PatientID: &jane.ID, Medication: "Lisinopril", Dosage: "10mg", Refills: 3, PatientName: "Jane Doe",
			PrescribedDate: "2024-05-01", DocumentPath: &path, Confidence: &conf,
			CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{PatientID: &jane.ID, Medication: "Metformin", Dosage: "500mg", PatientName: "Jane Doe",
			PrescribedDate: "2024-05-18", NeedsReview: true,
			CreatedAt: time.Date(2024, 5, 18, 23, 30, 0, 0, time.UTC)},
		{PatientID: &adam.ID, Medication: "Amoxicillin", Dosage: "250mg", PatientName: "Adam Smith",
			PrescribedDate: "2024-04-02", Status: "completed",
			CreatedAt: time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)},
	}
	for _, r := range rows {
		_, err := repos.Prescriptions.Create(ctx, r)
		require.NoError(t, err)
	}
	return jane.ID, adam.ID
}

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func ptr(t time.Time) *time.Time { return &t }

func TestExportAll(t *testing.T) {
	svc, repos := newService(t)
	seed(t, repos)

	data, n, err := svc.ExportPrescriptionsXLSX(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows := readRows(t, data)
	require.Len(t, rows, 4)
	assert.Equal(t, headers, rows[0])
	// oldest first
	assert.Equal(t, []string{"2024-04-02", "Adam Smith", "Amoxicillin", "250mg", "0", "completed"}, rows[1][:6])
	assert.Equal(t, "Lisinopril", rows[2][2])
	assert.Equal(t, "0.9", rows[2][6])
	assert.Equal(t, "no", rows[2][7])
	assert.Equal(t, "/scans/lisinopril.png", rows[2][8])
	assert.Equal(t, "yes", rows[3][7])
}

func TestExportPatientAndWindow(t *testing.T) {
	ctx := context.Background()
	svc, repos := newService(t)
	jane, adam := seed(t, repos)

	_, n, err := svc.ExportPrescriptionsXLSX(ctx, &jane, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, n, err = svc.ExportPrescriptionsXLSX(ctx, &adam, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// from only runs through today
	data, n, err := svc.ExportPrescriptionsXLSX(ctx, nil, ptr(time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, readRows(t, data), 3)

	// to is inclusive of the whole day
	_, n, err = svc.ExportPrescriptionsXLSX(ctx, nil, nil, ptr(time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, n, err = svc.ExportPrescriptionsXLSX(ctx, &jane, ptr(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)), ptr(time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, err = svc.ExportPrescriptionsXLSX(ctx, nil, ptr(fixedNow), ptr(fixedNow.AddDate(0, 0, -1)))
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	svc, _ := newService(t)
	from := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

	f, to := svc.Window(&from, nil)
	require.NotNil(t, f)
	require.NotNil(t, to)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *f)
	assert.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), *to)

	f, to = svc.Window(nil, nil)
	assert.Nil(t, f)
	assert.Nil(t, to)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
