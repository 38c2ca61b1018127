package server

import (
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ingest"
)

// Messages of prescriptions.v1.PrescriptionService. They travel as JSON over
// both gRPC and HTTP.

type ExtractTextRequest struct {
	Text             string   `json:"text"`
	ConfidenceFields []string `json:"confidence_fields,omitempty"`
	DefaultDate      string   `json:"default_date,omitempty"`
}

type ExtractTextResponse struct {
	Result      extract.ExtractionResult `json:"result"`
	Missing     []extract.Field          `json:"missing,omitempty"`
	NeedsReview bool                     `json:"needs_review"`
}

type ProcessDocumentRequest struct {
	DocumentID string `json:"document_id"`
}

// ProcessDocumentResponse mirrors the process-document HTTP payload.
type ProcessDocumentResponse struct {
	Success       bool                      `json:"success"`
	Status        string                    `json:"status"`
	OCRResult     *entity.OCRResult         `json:"ocr_result,omitempty"`
	Prescription  *entity.Prescription      `json:"prescription,omitempty"`
	ExtractedData *extract.ExtractionResult `json:"extracted_data,omitempty"`
	NeedsReview   bool                      `json:"needs_review"`
}

type IngestDocumentRequest struct {
	PatientID string `json:"patient_id"`
	Path      string `json:"path"`
	// Process runs the pipeline right away; otherwise the document is queued
	// when a queue is configured.
	Process bool `json:"process"`
}

type IngestDocumentResponse struct {
	Document ingest.IngestionResult   `json:"document"`
	Result   *ProcessDocumentResponse `json:"result,omitempty"`
	Queued   bool                     `json:"queued"`
	Error    string                   `json:"error,omitempty"`
}

type IngestDirectoryRequest struct {
	PatientID  string `json:"patient_id"`
	RootPath   string `json:"root_path"`
	SkipHidden *bool  `json:"skip_hidden,omitempty"`
}

type IngestDirectoryResponse struct {
	Stats   ingest.DirStats          `json:"stats"`
	Results []ingest.IngestionResult `json:"results"`
	Queued  int                      `json:"queued"`
}

type ListPrescriptionsRequest struct {
	PatientID string `json:"patient_id,omitempty"`
	Search    string `json:"search,omitempty"`
	Status    string `json:"status,omitempty"`
	Sort      string `json:"sort,omitempty"` // newest | oldest
	FromDate  string `json:"from_date,omitempty"`
	ToDate    string `json:"to_date,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type ListPrescriptionsResponse struct {
	Prescriptions []*entity.Prescription `json:"prescriptions"`
}

type PrescriptionStatsRequest struct {
	TopLimit int `json:"top_limit,omitempty"`
}

type PrescriptionStatsResponse struct {
	Stats          entity.PrescriptionStats `json:"stats"`
	TopMedications []entity.MedicationCount `json:"top_medications"`
	Events         map[string]int           `json:"events,omitempty"`
}

type ExportPrescriptionsRequest struct {
	PatientID string `json:"patient_id,omitempty"`
	FromDate  string `json:"from_date,omitempty"`
	ToDate    string `json:"to_date,omitempty"`
}

type ExportPrescriptionsResponse struct {
	Xlsx []byte `json:"xlsx"`
	Rows int    `json:"rows"`
}

type PatientStatsRequest struct{}

type PatientStatsResponse struct {
	Stats entity.PatientStats `json:"stats"`
}

// PrescriptionsByMonthRequest covers the last Months calendar months,
// including the current one. Zero means twelve.
type PrescriptionsByMonthRequest struct {
	Months int `json:"months,omitempty"`
}

type PrescriptionsByMonthResponse struct {
	Months []entity.MonthCount `json:"months"`
}

type MedicationsByStatusRequest struct{}

type MedicationsByStatusResponse struct {
	Statuses []entity.StatusCount `json:"statuses"`
}

type CommonMedicationsRequest struct{}

type CommonMedicationsResponse struct {
	Medications []string `json:"medications"`
}
