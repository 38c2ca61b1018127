package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/async"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ingest"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
)

var (
	watchDirs    []string
	watchPatient string
	watchInmem   bool
	watchNoScan  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch directories and process new prescription documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, watchInmem)
		if err != nil {
			return err
		}
		defer env.Close()
		logger := env.Logger

		patient, err := env.resolvePatient(ctx, watchPatient)
		if err != nil {
			return err
		}

		queue := async.NewProcessorQueue(env.Processor, logger.Named("queue"),
			async.WithWorkers(cfg.Queue.Workers),
			async.WithQueueSize(cfg.Queue.Size),
			async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
			async.WithResultHook(func(job async.Job, out *pipeline.Outcome, err error) {
				if err != nil || out == nil {
					return
				}
				fields := []zap.Field{
					zap.String("document_id", job.DocumentID.String()),
					zap.String("status", string(out.Status)),
					zap.Bool("needs_review", out.NeedsReview),
				}
				if out.Prescription != nil {
					fields = append(fields, zap.String("medication", out.Prescription.Medication))
				}
				logger.Info("document processed", fields...)
			}),
		)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			queue.Shutdown(sctx)
		}()

		paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       watchDirs,
			InitialScan: !watchNoScan,
			Debounce:    cfg.Ingest.Debounce,
			SkipHidden:  cfg.Ingest.SkipHidden,
		}, logger.Named("watcher"))
		if err != nil {
			return err
		}
		logger.Info("watching", zap.Strings("dirs", watchDirs), zap.String("patient_id", patient.ID.String()))

		for paths != nil || errs != nil {
			select {
			case p, ok := <-paths:
				if !ok {
					paths = nil
					continue
				}
				handleWatchedPath(ctx, env, queue, patient.ID, p)
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Warn("watcher error", zap.Error(e))
			}
		}
		logger.Info("watch stopped")
		return nil
	},
}

func handleWatchedPath(ctx context.Context, env *appEnv, queue async.Queue, patientID uuid.UUID, path string) {
	r, err := env.Ingestor.IngestPath(ctx, patientID, path)
	if err != nil {
		env.Logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	if r.Deduplicated {
		env.Logger.Debug("skipping duplicate", zap.String("path", path), zap.String("document_id", r.DocumentID))
		return
	}
	id, err := uuid.Parse(r.DocumentID)
	if err != nil {
		env.Logger.Error("ingest returned bad document id", zap.String("document_id", r.DocumentID))
		return
	}
	if err := queue.Enqueue(ctx, async.Job{DocumentID: id, SubmittedAt: time.Now()}); err != nil {
		env.Logger.Warn("enqueue failed", zap.String("document_id", r.DocumentID), zap.Error(err))
	}
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchDirs, "dir", nil, "directory to watch (repeatable)")
	watchCmd.Flags().StringVar(&watchPatient, "patient", "", "patient UUID or name (created if missing)")
	watchCmd.Flags().BoolVar(&watchInmem, "inmem", false, "use an in-memory SQLite database")
	watchCmd.Flags().BoolVar(&watchNoScan, "no-initial-scan", false, "only react to new files")
	_ = watchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(watchCmd)
}
