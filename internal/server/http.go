package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
)

const maxBodyBytes = 10 << 20

// allowed request headers for browser clients
var corsHeaders = []string{"authorization", "x-client-info", "apikey", "content-type", "x-user-id", requestIDHeader}

// HealthChecker is satisfied by *repository.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

type HTTPConfig struct {
	AllowedOrigins []string
}

type httpAPI struct {
	svc    *PrescriptionService
	ing    *IngestionService
	db     HealthChecker
	logger *zap.Logger
}

// NewHTTPHandler builds the REST API. ing and db may be nil.
func NewHTTPHandler(svc *PrescriptionService, ing *IngestionService, db HealthChecker, cfg HTTPConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.L()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	api := &httpAPI{svc: svc, ing: ing, db: db, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: corsHeaders,
		ExposedHeaders: []string{"Content-Disposition", "X-Row-Count"},
		MaxAge:         300,
	}))

	r.Get("/health", api.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/process-document", api.processText)
		r.Post("/extract", api.extract)
		r.Post("/documents/{documentID}/process", api.processStored)
		if ing != nil {
			r.Post("/documents", api.ingestDocument)
		}
		r.Get("/patients/stats", api.patientStats)
		r.Get("/patients/{patientID}/ocr-results", api.ocrResults)
		r.Get("/prescriptions", api.listPrescriptions)
		r.Get("/prescriptions/recent", api.recent)
		r.Get("/prescriptions/stats", api.stats)
		r.Get("/prescriptions/by-month", api.byMonth)
		r.Patch("/prescriptions/{id}/status", api.updateStatus)
		r.Get("/medications/top", api.topMedications)
		r.Get("/medications/by-status", api.medicationsByStatus)
		r.Get("/medications/common", api.commonMedications)
		r.Get("/export.xlsx", api.export)
	})
	return r
}

// requestLogger logs each request with zap and carries chi's request ID
// into the context the services read.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			ctx := common.WithRequestID(r.Context(), reqID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", reqID),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

func (a *httpAPI) health(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.HealthCheck(r.Context(), 2*time.Second); err != nil {
			a.logger.Error("database health check failed", zap.Error(err))
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *httpAPI) processText(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ProcessTextRequest
	if !decode(w, r, &req) {
		return
	}
	req.UserID = r.Header.Get("X-User-ID")
	out, err := a.svc.ProcessText(r.Context(), req)
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractTextRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.svc.ExtractText(r.Context(), &req)
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) processStored(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.ProcessDocument(r.Context(), &ProcessDocumentRequest{DocumentID: chi.URLParam(r, "documentID")})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) ingestDocument(w http.ResponseWriter, r *http.Request) {
	var req IngestDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.ing.IngestDocument(r.Context(), &req)
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	code := http.StatusCreated
	if out.Document.Deduplicated {
		code = http.StatusOK
	}
	respondWithJSON(w, code, out)
}

func (a *httpAPI) ocrResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	out, err := a.svc.OCRResults(r.Context(), chi.URLParam(r, "patientID"), limit)
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"ocr_results": out})
}

func (a *httpAPI) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, r, "offset")
	if !ok {
		return
	}
	out, err := a.svc.ListPrescriptions(r.Context(), &ListPrescriptionsRequest{
		PatientID: q.Get("patient_id"),
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		Sort:      q.Get("sort"),
		FromDate:  q.Get("from"),
		ToDate:    q.Get("to"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	out, err := a.svc.RecentPrescriptions(r.Context(), limit)
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListPrescriptionsResponse{Prescriptions: out})
}

func (a *httpAPI) stats(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "top")
	if !ok {
		return
	}
	out, err := a.svc.PrescriptionStats(r.Context(), &PrescriptionStatsRequest{TopLimit: limit})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) topMedications(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	out, err := a.svc.TopMedications(r.Context(), limit)
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"medications": out})
}

func (a *httpAPI) patientStats(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.PatientStats(r.Context(), &PatientStatsRequest{})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) byMonth(w http.ResponseWriter, r *http.Request) {
	months, ok := intParam(w, r, "months")
	if !ok {
		return
	}
	out, err := a.svc.PrescriptionsByMonth(r.Context(), &PrescriptionsByMonthRequest{Months: months})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) medicationsByStatus(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.MedicationsByStatus(r.Context(), &MedicationsByStatusRequest{})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (a *httpAPI) commonMedications(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.CommonMedications(r.Context(), &CommonMedicationsRequest{})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

type statusUpdate struct {
	Status string `json:"status"`
}

func (a *httpAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusUpdate
	if !decode(w, r, &body) {
		return
	}
	if err := a.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status); err != nil {
		a.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *httpAPI) export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := a.svc.ExportPrescriptions(r.Context(), &ExportPrescriptionsRequest{
		PatientID: q.Get("patient_id"),
		FromDate:  q.Get("from"),
		ToDate:    q.Get("to"),
	})
	if err != nil {
		a.respondWithError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="prescriptions.xlsx"`)
	w.Header().Set("X-Row-Count", strconv.Itoa(out.Rows))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Xlsx); err != nil {
		a.logger.Warn("write export body", zap.Error(err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request payload", Message: err.Error()})
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "invalid query parameter", Message: name + " must be an integer"})
		return 0, false
	}
	return n, true
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (a *httpAPI) respondWithError(w http.ResponseWriter, err error) {
	st := status.Convert(common.ToStatus(err))
	code := httpStatus(st.Code())
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	respondWithJSON(w, code, errorBody{Error: http.StatusText(code), Message: st.Message()})
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
