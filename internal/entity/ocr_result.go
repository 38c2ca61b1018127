package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OCRResult tracks one recognition + extraction attempt for a document.
type OCRResult struct {
	ID                   uuid.UUID       `json:"id"`
	DocumentID           *uuid.UUID      `json:"document_id,omitempty"`
	PatientID            *uuid.UUID      `json:"patient_id,omitempty"`
	DocumentPath         string          `json:"document_path"`
	DocumentURL          *string         `json:"document_url,omitempty"`
	Format               string          `json:"format"`
	Status               string          `json:"status"`
	RawText              *string         `json:"raw_text,omitempty"`
	ExtractedData        json.RawMessage `json:"extracted_data,omitempty"`
	OCRConfidence        *float32        `json:"ocr_confidence,omitempty"`
	ExtractionConfidence *float64        `json:"extraction_confidence,omitempty"`
	NeedsReview          bool            `json:"needs_review"`
	Provider             *string         `json:"provider,omitempty"`
	ProcessedBy          string          `json:"processed_by"`
	ErrorMessage         *string         `json:"error_message,omitempty"`
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           *time.Time      `json:"finished_at,omitempty"`
}
