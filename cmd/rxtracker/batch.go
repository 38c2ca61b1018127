package main

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
)

var (
	batchDir         string
	batchOut         string
	batchPatient     string
	batchFrom        string
	batchTo          string
	batchConcurrency int
	batchInmem       bool
	batchSkipHidden  bool
)

type batchSummary struct {
	Ingested     int    `json:"ingested"`
	Deduplicated uint32 `json:"deduplicated"`
	Processed    int64  `json:"processed"`
	NeedsReview  int64  `json:"needs_review"`
	ManualEntry  int64  `json:"manual_entry"`
	Failures     int64  `json:"failures"`
	Rows         int    `json:"rows"`
	Output       string `json:"output"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Ingest a directory, process every document and export an XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchDir == "" {
			return eris.Wrap(common.ErrInvalidInput, "--dir is required")
		}
		from, err := parseDateFlag("from", batchFrom)
		if err != nil {
			return err
		}
		to, err := parseDateFlag("to", batchTo)
		if err != nil {
			return err
		}
		out := batchOut
		if out == "" {
			out = filepath.Join(filepath.Dir(filepath.Clean(batchDir)), "prescriptions.xlsx")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, batchInmem)
		if err != nil {
			return err
		}
		defer env.Close()
		logger := env.Logger

		patient, err := env.resolvePatient(ctx, batchPatient)
		if err != nil {
			return err
		}

		logger.Info("starting ingestion", zap.String("dir", batchDir), zap.String("patient_id", patient.ID.String()))
		results, stats, err := env.Ingestor.IngestDirectory(ctx, patient.ID, batchDir, batchSkipHidden)
		if err != nil {
			return err
		}
		var ingested []uuid.UUID
		for _, r := range results {
			if r.Err != "" || r.Deduplicated {
				continue
			}
			id, err := uuid.Parse(r.DocumentID)
			if err != nil {
				logger.Error("failed to parse document id", zap.String("document_id", r.DocumentID), zap.Error(err))
				continue
			}
			ingested = append(ingested, id)
		}
		logger.Info("ingestion complete",
			zap.Int("documents_ingested", len(ingested)),
			zap.Uint32("scanned", stats.Scanned),
			zap.Uint32("matched", stats.Matched),
			zap.Uint32("succeeded", stats.Succeeded),
			zap.Uint32("failed", stats.Failed),
			zap.Uint32("deduplicated", stats.Deduplicated))

		summary := batchSummary{Ingested: len(ingested), Deduplicated: stats.Deduplicated, Output: out}
		var processed, review, manual, failures atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, batchConcurrency))
		for _, id := range ingested {
			g.Go(func() error {
				res, err := env.Processor.ProcessDocument(gctx, id)
				if err != nil {
					logger.Error("failed to process document", zap.String("document_id", id.String()), zap.Error(err))
					failures.Add(1)
					// a single bad document does not stop the batch
					return gctx.Err()
				}
				processed.Add(1)
				switch {
				case res.Status == constants.OCRStatusManualEntry:
					manual.Add(1)
				case res.NeedsReview:
					review.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "batch processing")
		}
		summary.Processed = processed.Load()
		summary.NeedsReview = review.Load()
		summary.ManualEntry = manual.Load()
		summary.Failures = failures.Load()

		logger.Info("exporting to xlsx", zap.String("output", out))
		xlsx, rows, err := env.Exporter.ExportPrescriptionsXLSX(ctx, &patient.ID, from, to)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, xlsx, 0o644); err != nil {
			return eris.Wrap(err, "write output file")
		}
		summary.Rows = rows

		logger.Info("batch processing complete",
			zap.Int("documents_ingested", summary.Ingested),
			zap.Int64("documents_processed", summary.Processed),
			zap.Int64("failures", summary.Failures),
			zap.String("output", out))
		return writeJSON(cmd.OutOrStdout(), summary)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of prescription documents (required)")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "output XLSX path (default: prescriptions.xlsx next to --dir)")
	batchCmd.Flags().StringVar(&batchPatient, "patient", defaultPatientName, "patient UUID or name")
	batchCmd.Flags().StringVar(&batchFrom, "from", "", "export from date YYYY-MM-DD")
	batchCmd.Flags().StringVar(&batchTo, "to", "", "export to date YYYY-MM-DD")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "documents processed in parallel")
	batchCmd.Flags().BoolVar(&batchInmem, "inmem", false, "use an in-memory SQLite database")
	batchCmd.Flags().BoolVar(&batchSkipHidden, "skip-hidden", true, "skip hidden files and directories")
	rootCmd.AddCommand(batchCmd)
}
