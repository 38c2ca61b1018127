package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
)

// FSIngestor reads documents from the local filesystem.
type FSIngestor struct {
	Patients  repository.PatientRepository
	Documents repository.DocumentRepository
	Logger    *zap.Logger
}

func NewFSIngestor(p repository.PatientRepository, d repository.DocumentRepository, logger *zap.Logger) *FSIngestor {
	if logger == nil {
		logger = zap.L()
	}
	return &FSIngestor{Patients: p, Documents: d, Logger: logger}
}

// IngestPath hashes the file at path and records it for the patient. A file
// already recorded for the patient with the same content is deduplicated.
func (i *FSIngestor) IngestPath(ctx context.Context, patientID uuid.UUID, path string) (IngestionResult, error) {
	var out IngestionResult

	abs, err := filepath.Abs(path)
	if err != nil {
		i.Logger.Error("abs path error", zap.String("path", path), zap.Error(err))
		return out, eris.Wrap(err, "abs path")
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		i.Logger.Warn("unsupported or missing extension", zap.String("path", abs), zap.String("ext", ext))
		return out, eris.Wrapf(common.ErrInvalidInput, "unsupported or missing extension %q", ext)
	}

	if err := ValidatePatient(ctx, i.Patients, patientID); err != nil {
		return out, err
	}

	f, err := os.Open(abs)
	if err != nil {
		i.Logger.Error("open error", zap.String("path", abs), zap.Error(err))
		return out, eris.Wrap(err, "open")
	}
	defer func() {
		if err := f.Close(); err != nil {
			i.Logger.Warn("close file error", zap.String("path", abs), zap.Error(err))
		}
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		i.Logger.Error("hash error", zap.String("path", abs), zap.Error(err))
		return out, eris.Wrap(err, "hash")
	}
	hashHex := hex.EncodeToString(h.Sum(nil))

	row, dedup, err := i.Documents.UpsertByHash(ctx, &entity.Document{
		PatientID:   patientID,
		SourcePath:  abs,
		ContentHash: hashHex,
		Filename:    filepath.Base(abs),
		FileExt:     ext,
		FileSize:    int(size),
	})
	if err != nil {
		return out, err
	}

	i.Logger.Info("document ingested",
		zap.String("document_id", row.ID.String()),
		zap.String("path", abs),
		zap.Bool("deduplicated", dedup))
	return IngestionResult{
		SourcePath:   row.SourcePath,
		DocumentID:   row.ID.String(),
		Deduplicated: dedup,
		HashHex:      hashHex,
		FileExt:      row.FileExt,
		FileSize:     row.FileSize,
		UploadedAt:   row.UploadedAt,
	}, nil
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(
	ctx context.Context,
	patientID uuid.UUID,
	root string,
	skipHidden bool,
) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, eris.Wrap(common.ErrInvalidInput, "root_path is required")
	}
	if err := ValidatePatient(ctx, i.Patients, patientID); err != nil {
		return nil, DirStats{}, err
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, patientID, path)
		if err != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}

		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	if err != nil {
		return results, stats, eris.Wrap(err, "walk")
	}
	return results, stats, nil
}

// ValidatePatient returns an ErrNotFound error when the patient does not exist.
func ValidatePatient(ctx context.Context, patients repository.PatientRepository, patientID uuid.UUID) error {
	ok, err := patients.Exists(ctx, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Wrapf(common.ErrNotFound, "patient %s", patientID)
	}
	return nil
}
