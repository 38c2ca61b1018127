package server

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/async"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ingest"
)

// IngestionService records documents from the server's filesystem and hands
// them to the pipeline.
type IngestionService struct {
	ingestor ingest.Ingestor
	svc      *PrescriptionService
	queue    async.Queue
	logger   *zap.Logger
}

// NewIngestionService wires ingestion to svc. A nil queue processes
// documents inline.
func NewIngestionService(ing ingest.Ingestor, svc *PrescriptionService, queue async.Queue, logger *zap.Logger) *IngestionService {
	if logger == nil {
		logger = zap.L()
	}
	return &IngestionService{ingestor: ing, svc: svc, queue: queue, logger: logger}
}

func (s *IngestionService) IngestDocument(ctx context.Context, req *IngestDocumentRequest) (*IngestDocumentResponse, error) {
	patientID, err := parseUUID("patient_id", req.PatientID, true)
	if err != nil {
		s.logger.Error("invalid patient_id for ingest", zap.String("patient_id", req.PatientID))
		return nil, err
	}
	path := strings.TrimSpace(req.Path)
	v := common.NewValidator().Field("path", path, common.Required, common.DocumentExtension)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	s.logger.Info("starting file ingest", zap.String("patient_id", patientID.String()), zap.String("path", path))
	r, err := s.ingestor.IngestPath(ctx, patientID, path)
	if err != nil {
		return nil, err
	}
	s.logger.Info("file ingest succeeded",
		zap.String("patient_id", patientID.String()),
		zap.String("document_id", r.DocumentID),
		zap.Bool("deduplicated", r.Deduplicated))

	resp := &IngestDocumentResponse{Document: r}
	docID, _ := uuid.Parse(r.DocumentID)

	if !req.Process && s.queue != nil {
		if err := s.enqueue(ctx, docID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Queued = true
		}
		return resp, nil
	}

	out, err := s.svc.ProcessDocument(ctx, &ProcessDocumentRequest{DocumentID: r.DocumentID})
	if err != nil {
		s.logger.Error("pipeline failed", zap.String("document_id", r.DocumentID), zap.Error(err))
		resp.Error = err.Error()
		return resp, nil
	}
	resp.Result = out
	return resp, nil
}

func (s *IngestionService) IngestDirectory(ctx context.Context, req *IngestDirectoryRequest) (*IngestDirectoryResponse, error) {
	patientID, err := parseUUID("patient_id", req.PatientID, true)
	if err != nil {
		return nil, err
	}
	root := strings.TrimSpace(req.RootPath)
	if root == "" {
		return nil, common.InvalidArgumentError("root_path is required")
	}
	skipHidden := true
	if req.SkipHidden != nil {
		skipHidden = *req.SkipHidden
	}

	s.logger.Info("starting directory ingest",
		zap.String("patient_id", patientID.String()),
		zap.String("root", root),
		zap.Bool("skip_hidden", skipHidden))
	results, stats, err := s.ingestor.IngestDirectory(ctx, patientID, root, skipHidden)
	if err != nil {
		return nil, err
	}
	s.logger.Info("directory ingest completed",
		zap.Uint32("scanned", stats.Scanned),
		zap.Uint32("matched", stats.Matched),
		zap.Uint32("succeeded", stats.Succeeded),
		zap.Uint32("deduplicated", stats.Deduplicated),
		zap.Uint32("failed", stats.Failed))

	out := &IngestDirectoryResponse{Stats: stats, Results: results}
	for i, r := range results {
		if r.Err != "" || r.DocumentID == "" || r.Deduplicated {
			continue
		}
		docID, err := uuid.Parse(r.DocumentID)
		if err != nil {
			continue
		}
		if s.queue == nil {
			if _, err := s.svc.ProcessDocument(ctx, &ProcessDocumentRequest{DocumentID: r.DocumentID}); err != nil {
				out.Results[i].Err = err.Error()
			}
			continue
		}
		if err := s.enqueue(ctx, docID); err != nil {
			out.Results[i].Err = err.Error()
			continue
		}
		out.Queued++
	}
	return out, nil
}

func (s *IngestionService) enqueue(ctx context.Context, docID uuid.UUID) error {
	err := s.queue.Enqueue(ctx, async.Job{
		DocumentID:  docID,
		SubmittedAt: time.Now(),
		RequestID:   common.RequestIDFromContext(ctx),
	})
	if err != nil {
		s.logger.Warn("enqueue failed", zap.String("document_id", docID.String()), zap.Error(err))
	}
	return err
}
