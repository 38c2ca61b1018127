package main

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
)

var (
	processPatient  string
	processFile     string
	processDocument string
	processInmem    bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Ingest one document and run OCR and extraction on it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(processFile) == "" && strings.TrimSpace(processDocument) == "" {
			return eris.Wrap(common.ErrInvalidInput, "--file or --document is required")
		}
		ctx := cmd.Context()
		env, err := initEnv(ctx, processInmem)
		if err != nil {
			return err
		}
		defer env.Close()

		var docID uuid.UUID
		if processDocument != "" {
			docID, err = uuid.Parse(processDocument)
			if err != nil {
				return eris.Wrap(common.ErrInvalidInput, "--document must be a UUID")
			}
		} else {
			patient, err := env.resolvePatient(ctx, processPatient)
			if err != nil {
				return err
			}
			r, err := env.Ingestor.IngestPath(ctx, patient.ID, processFile)
			if err != nil {
				return err
			}
			docID, _ = uuid.Parse(r.DocumentID)
		}

		out, err := env.Processor.ProcessDocument(ctx, docID)
		if err != nil {
			env.Logger.Error("processing failed", zap.String("document_id", docID.String()), zap.Error(err))
			if out != nil {
				_ = writeJSON(cmd.OutOrStdout(), out)
			}
			return err
		}
		return writeJSON(cmd.OutOrStdout(), processOutput{DocumentID: docID, Outcome: out})
	},
}

type processOutput struct {
	DocumentID uuid.UUID `json:"document_id"`
	*pipeline.Outcome
}

func init() {
	processCmd.Flags().StringVar(&processPatient, "patient", "", "patient UUID or name (created if missing)")
	processCmd.Flags().StringVar(&processFile, "file", "", "document to ingest and process")
	processCmd.Flags().StringVar(&processDocument, "document", "", "already ingested document ID to (re)process")
	processCmd.Flags().BoolVar(&processInmem, "inmem", false, "use an in-memory SQLite database")
	rootCmd.AddCommand(processCmd)
}
