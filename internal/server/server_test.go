package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/export"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ingest"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ocr"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

const labeledText = "Patient Name: John Smith\nMedication: Lisinopril\nDosage: 10mg\nRefills: 3\nDate: 01/15/2024"

type fixture struct {
	db      *repository.DB
	repos   *repository.Repositories
	svc     *PrescriptionService
	ing     *IngestionService
	patient *entity.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	db, err := repository.OpenSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repos := repository.NewRepositories(db, logger)

	proc, err := pipeline.New(logger, repos, ocr.None{}, nil, nil, pipeline.Config{})
	require.NoError(t, err)
	svc := NewPrescriptionService(repos, proc, export.NewService(repos.Prescriptions, logger), logger)
	ing := NewIngestionService(ingest.NewFSIngestor(repos.Patients, repos.Documents, logger), svc, nil, logger)

	p, err := repos.Patients.Create(ctx, "John Smith", nil)
	require.NoError(t, err)
	return &fixture{db: db, repos: repos, svc: svc, ing: ing, patient: p}
}

func (f *fixture) handler(t *testing.T) http.Handler {
	return NewHTTPHandler(f.svc, f.ing, f.db, HTTPConfig{}, zaptest.NewLogger(t))
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPProcessDocumentFlow(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t)

	rec := do(t, h, http.MethodPost, "/v1/process-document", map[string]string{
		"documentPath":  "uploads/rx-1.png",
		"documentUrl":   "https://files.example.com/rx-1.png",
		"patientId":     f.patient.ID.String(),
		"extractedText": labeledText,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ProcessDocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "EXTRACTED", out.Status)
	require.NotNil(t, out.Prescription)
	assert.Equal(t, "Lisinopril", out.Prescription.Medication)
	assert.Equal(t, 3, out.Prescription.Refills)
	require.NotNil(t, out.OCRResult)
	require.NotNil(t, out.ExtractedData)
	assert.Equal(t, "10mg", out.ExtractedData.Dosage)

	rec = do(t, h, http.MethodGet, "/v1/prescriptions?search=lisin&status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListPrescriptionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Prescriptions, 1)
	id := list.Prescriptions[0].ID

	rec = do(t, h, http.MethodPatch, "/v1/prescriptions/"+id.String()+"/status", map[string]string{"status": "done"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/prescriptions/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats PrescriptionStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, entity.PrescriptionStats{Total: 1, Completed: 1}, stats.Stats)
	assert.Equal(t, []entity.MedicationCount{{Medication: "Lisinopril", Count: 1}}, stats.TopMedications)
	assert.Equal(t, 1, stats.Events[repository.EventDocumentProcessed])

	rec = do(t, h, http.MethodGet, "/v1/prescriptions/recent?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lisinopril")

	rec = do(t, h, http.MethodGet, "/v1/medications/top", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, h, http.MethodGet, "/v1/patients/"+f.patient.ID.String()+"/ocr-results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results struct {
		OCRResults []*entity.OCRResult `json:"ocr_results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results.OCRResults, 1)
	assert.Equal(t, "EXTRACTED", results.OCRResults[0].Status)

	rec = do(t, h, http.MethodGet, "/v1/export.xlsx?patient_id="+f.patient.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Row-Count"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"))
}

func TestHTTPErrors(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing document path", http.MethodPost, "/v1/process-document", map[string]string{"extractedText": "x"}, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/v1/prescriptions?status=paused", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/prescriptions?limit=ten", nil, http.StatusBadRequest},
		{"bad date", http.MethodGet, "/v1/prescriptions?from=01-02-2024", nil, http.StatusBadRequest},
		{"bad patient", http.MethodGet, "/v1/patients/nope/ocr-results", nil, http.StatusBadRequest},
		{"unknown prescription", http.MethodPatch, "/v1/prescriptions/" + uuid.NewString() + "/status", map[string]string{"status": "active"}, http.StatusNotFound},
		{"unknown status", http.MethodPatch, "/v1/prescriptions/" + uuid.NewString() + "/status", map[string]string{"status": "paused"}, http.StatusBadRequest},
		{"unknown document", http.MethodPost, "/v1/documents/" + uuid.NewString() + "/process", nil, http.StatusNotFound},
		{"empty extract", http.MethodPost, "/v1/extract", map[string]string{"text": " "}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/extract", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHealthAndCORS(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodOptions, "/v1/process-document", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "apikey, content-type")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "apikey")
}

func TestHTTPExtract(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.handler(t), http.MethodPost, "/v1/extract", ExtractTextRequest{Text: "Rx: Amoxicillin"})
	require.Equal(t, http.StatusOK, rec.Code)
	var out ExtractTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Amoxicillin", out.Result.Medication)
	assert.True(t, out.NeedsReview)
	assert.NotEmpty(t, out.Missing)
}

func dialBufconn(t *testing.T, f *fixture) (*Client, healthpb.HealthClient) {
	t.Helper()
	conn := dialBufconnConn(t, f)
	return NewClient(conn), healthpb.NewHealthClient(conn)
}

func dialBufconnConn(t *testing.T, f *fixture) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(f.svc, f.ing, zaptest.NewLogger(t))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client, health := dialBufconn(t, f)

	hr, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: PrescriptionServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hr.GetStatus())

	ex, err := client.ExtractText(ctx, &ExtractTextRequest{Text: labeledText, ConfidenceFields: []string{"medication", "dosage"}})
	require.NoError(t, err)
	assert.Equal(t, "Lisinopril", ex.Result.Medication)
	assert.InDelta(t, 1.0, ex.Result.Confidence, 1e-9)
	assert.False(t, ex.NeedsReview)

	_, err = client.ExtractText(ctx, &ExtractTextRequest{Text: labeledText, ConfidenceFields: []string{"pharmacy"}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ProcessDocument(ctx, &ProcessDocumentRequest{DocumentID: uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.ListPrescriptions(ctx, &ListPrescriptionsRequest{Sort: "sideways"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	dir := t.TempDir()
	path := filepath.Join(dir, "rx.txt")
	require.NoError(t, os.WriteFile(path, []byte(labeledText), 0o644))
	ing, err := client.IngestDocument(ctx, &IngestDocumentRequest{PatientID: f.patient.ID.String(), Path: path, Process: true})
	require.NoError(t, err)
	assert.Empty(t, ing.Error)
	require.NotNil(t, ing.Result)
	assert.Equal(t, "EXTRACTED", ing.Result.Status)

	list, err := client.ListPrescriptions(ctx, &ListPrescriptionsRequest{PatientID: f.patient.ID.String(), Sort: "oldest"})
	require.NoError(t, err)
	require.Len(t, list.Prescriptions, 1)
	assert.Equal(t, "Lisinopril", list.Prescriptions[0].Medication)

	st, err := client.PrescriptionStats(ctx, &PrescriptionStatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stats.Active)

	xl, err := client.ExportPrescriptions(ctx, &ExportPrescriptionsRequest{FromDate: "2000-01-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, xl.Rows)
	assert.NotEmpty(t, xl.Xlsx)

	_, err = client.ExportPrescriptions(ctx, &ExportPrescriptionsRequest{PatientID: "abc"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.IngestDocument(ctx, &IngestDocumentRequest{PatientID: uuid.NewString(), Path: path})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCIngestDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client, _ := dialBufconn(t, f)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(labeledText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.csv"), []byte("x"), 0o644))

	out, err := client.IngestDirectory(ctx, &IngestDirectoryRequest{PatientID: f.patient.ID.String(), RootPath: dir})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), out.Stats.Matched)
	assert.Equal(t, uint32(2), out.Stats.Succeeded)
	assert.Zero(t, out.Queued)
	for _, r := range out.Results {
		assert.Empty(t, r.Err, r.SourcePath)
	}

	list, err := f.svc.ListPrescriptions(ctx, &ListPrescriptionsRequest{})
	require.NoError(t, err)
	assert.Len(t, list.Prescriptions, 1)
}

func seedAnalytics(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	seed := []entity.Prescription{
		{PatientID: &f.patient.ID, Medication: "Lisinopril", Dosage: "10mg"},
		{PatientID: &f.patient.ID, Medication: "Metformin", Dosage: "500mg", Status: "completed"},
		{Medication: "lisinopril", Dosage: "20mg"},
	}
	for i := range seed {
		_, err := f.repos.Prescriptions.Create(ctx, &seed[i])
		require.NoError(t, err)
	}
	_, err := f.repos.Patients.Create(ctx, "No Prescriptions", nil)
	require.NoError(t, err)
}

func TestHTTPAnalytics(t *testing.T) {
	f := newFixture(t)
	seedAnalytics(t, f)
	h := f.handler(t)
	month := time.Now().UTC().Format("2006-01")

	rec := do(t, h, http.MethodGet, "/v1/patients/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ps PatientStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	assert.Equal(t, entity.PatientStats{Total: 2, Active: 1, NewThisMonth: 2}, ps.Stats)

	rec = do(t, h, http.MethodGet, "/v1/prescriptions/by-month?months=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bm PrescriptionsByMonthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bm))
	assert.Equal(t, []entity.MonthCount{{Month: month, Count: 3}}, bm.Months)

	rec = do(t, h, http.MethodGet, "/v1/prescriptions/by-month?months=500", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/medications/by-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bs MedicationsByStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bs))
	assert.Equal(t, []entity.StatusCount{{Status: "active", Count: 1}, {Status: "completed", Count: 1}}, bs.Statuses)

	rec = do(t, h, http.MethodGet, "/v1/medications/common", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cm CommonMedicationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cm))
	assert.Equal(t, extract.DefaultRules().Medications(), cm.Medications)
	assert.Contains(t, cm.Medications, "Metformin")
}

func TestPrescriptionsByMonthWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	_, err := f.repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "Losartan", CreatedAt: old})
	require.NoError(t, err)
	_, err = f.repos.Prescriptions.Create(ctx, &entity.Prescription{Medication: "Lisinopril", CreatedAt: old.AddDate(0, 2, 0)})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC) }

	out, err := f.svc.PrescriptionsByMonth(ctx, &PrescriptionsByMonthRequest{Months: 2})
	require.NoError(t, err)
	assert.Equal(t, []entity.MonthCount{{Month: "2024-03", Count: 1}}, out.Months)

	out, err = f.svc.PrescriptionsByMonth(ctx, &PrescriptionsByMonthRequest{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, []entity.MonthCount{{Month: "2024-01", Count: 1}, {Month: "2024-03", Count: 1}}, out.Months)

	_, err = f.svc.PrescriptionsByMonth(ctx, &PrescriptionsByMonthRequest{Months: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCAnalytics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedAnalytics(t, f)
	client, _ := dialBufconn(t, f)

	ps, err := client.PatientStats(ctx, &PatientStatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, entity.PatientStats{Total: 2, Active: 1, NewThisMonth: 2}, ps.Stats)

	bm, err := client.PrescriptionsByMonth(ctx, &PrescriptionsByMonthRequest{})
	require.NoError(t, err)
	require.Len(t, bm.Months, 1)
	assert.Equal(t, 3, bm.Months[0].Count)

	bs, err := client.MedicationsByStatus(ctx, &MedicationsByStatusRequest{})
	require.NoError(t, err)
	assert.Len(t, bs.Statuses, 2)

	cm, err := client.CommonMedications(ctx, &CommonMedicationsRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, cm.Medications)
}

func TestGRPCStructWire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conn := dialBufconnConn(t, f)

	in, err := structpb.NewStruct(map[string]any{"text": labeledText})
	require.NoError(t, err)
	out := &structpb.Struct{}
	require.NoError(t, conn.Invoke(ctx, "/"+PrescriptionServiceName+"/ExtractText", in, out))

	result := out.GetFields()["result"].GetStructValue()
	require.NotNil(t, result)
	assert.Equal(t, "Lisinopril", result.GetFields()["medication"].GetStringValue())
	assert.Equal(t, 3.0, result.GetFields()["refills"].GetNumberValue())

	bad, err := structpb.NewStruct(map[string]any{"text": 42.0})
	require.NoError(t, err)
	err = conn.Invoke(ctx, "/"+PrescriptionServiceName+"/ExtractText", bad, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServiceDescriptorRegistered(t *testing.T) {
	d, err := protoregistry.GlobalFiles.FindDescriptorByName(PrescriptionServiceName)
	require.NoError(t, err)
	sd, ok := d.(protoreflect.ServiceDescriptor)
	require.True(t, ok)
	assert.Equal(t, len(prescriptionServiceDesc.Methods), sd.Methods().Len())

	m := sd.Methods().ByName("PatientStats")
	require.NotNil(t, m)
	assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), m.Input().FullName())
	assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), m.Output().FullName())

	d, err = protoregistry.GlobalFiles.FindDescriptorByName(IngestionServiceName)
	require.NoError(t, err)
	assert.Equal(t, len(ingestionServiceDesc.Methods), d.(protoreflect.ServiceDescriptor).Methods().Len())
}

func TestGRPCReflection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newFixture(t)
	conn := dialBufconnConn(t, f)

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	var names []string
	for _, s := range resp.GetListServicesResponse().GetService() {
		names = append(names, s.GetName())
	}
	assert.Contains(t, names, PrescriptionServiceName)
	assert.Contains(t, names, IngestionServiceName)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: PrescriptionServiceName},
	}))
	resp, err = stream.Recv()
	require.NoError(t, err)
	files := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	require.NotEmpty(t, files)

	var found *descriptorpb.FileDescriptorProto
	for _, raw := range files {
		fdp := &descriptorpb.FileDescriptorProto{}
		require.NoError(t, proto.Unmarshal(raw, fdp))
		if fdp.GetName() == serviceProtoFile {
			found = fdp
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, servicePackage, found.GetPackage())
	require.Len(t, found.GetService(), 2)
	assert.Equal(t, "PrescriptionService", found.GetService()[0].GetName())
	assert.Equal(t, ".google.protobuf.Struct", found.GetService()[0].GetMethod()[0].GetInputType())
	require.NoError(t, stream.CloseSend())
}
