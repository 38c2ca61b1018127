package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ocr"
)

var (
	ocrProvider string
	ocrExtract  bool
	ocrTimeout  time.Duration
)

type ocrOutput struct {
	Recognized ocr.RecognizedText        `json:"recognized"`
	Extracted  *extract.ExtractionResult `json:"extracted,omitempty"`
}

var ocrCmd = &cobra.Command{
	Use:   "ocr <image>",
	Short: "Recognize a document with the configured OCR provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := zap.L()
		ctx, cancel := context.WithTimeout(cmd.Context(), ocrTimeout)
		defer cancel()

		ocrCfg := cfg.OCR
		if ocrProvider != "" {
			ocrCfg.Provider = ocrProvider
		}
		provider, closeProvider, err := ocr.NewProvider(ctx, ocrCfg, cfg.Cache, logger)
		if err != nil {
			return err
		}
		defer closeProvider()

		start := time.Now()
		res, err := provider.Recognize(ctx, ocr.Document{Path: args[0]})
		if errors.Is(err, ocr.ErrManualEntry) {
			logger.Warn("document requires manual entry", zap.String("path", args[0]))
			return writeJSON(cmd.OutOrStdout(), ocrOutput{Recognized: res})
		}
		if err != nil {
			logger.Error("text recognition failed", zap.String("path", args[0]), zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
			return err
		}
		logger.Info("text recognition ok",
			zap.String("provider", res.Provider),
			zap.String("method", res.Method),
			zap.Int("pages", res.Pages),
			zap.Int("bytes", len(res.Text)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))

		out := ocrOutput{Recognized: res}
		if ocrExtract {
			ex, err := loadExtractor(cfg.Extraction)
			if err != nil {
				return err
			}
			fields := ex.Extract(res.Text, extract.Options{ConfidenceFields: cfg.Extraction.Fields()})
			out.Extracted = &fields
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	ocrCmd.Flags().StringVar(&ocrProvider, "provider", "", "override ocr.provider (tesseract, mistral, none)")
	ocrCmd.Flags().BoolVar(&ocrExtract, "extract", false, "also extract prescription fields")
	ocrCmd.Flags().DurationVar(&ocrTimeout, "timeout", 2*time.Minute, "overall timeout")
	rootCmd.AddCommand(ocrCmd)
}
