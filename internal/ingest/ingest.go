package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string    `json:"source_path"`
	DocumentID   string    `json:"document_id,omitempty"`
	Deduplicated bool      `json:"deduplicated"`
	HashHex      string    `json:"hash_hex,omitempty"`
	FileExt      string    `json:"file_ext,omitempty"`
	FileSize     int       `json:"file_size,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at,omitempty"`
	Err          string    `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Ingestor is the behavior the service depends on.
type Ingestor interface {
	// IngestPath a single path.
	IngestPath(ctx context.Context, patientID uuid.UUID, path string) (IngestionResult, error)
	// IngestDirectory ingests all matching files under root.
	IngestDirectory(ctx context.Context, patientID uuid.UUID, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
}
