package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document represents an uploaded prescription document.
type Document struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	SourcePath  string    `json:"source_path"`
	DocumentURL *string   `json:"document_url,omitempty"`
	ContentHash string    `json:"content_hash"`
	Filename    string    `json:"filename"`
	FileExt     string    `json:"file_ext"`
	FileSize    int       `json:"file_size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
