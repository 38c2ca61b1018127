package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
)

var (
	extractFields      []string
	extractDefaultDate string
)

var extractCmd = &cobra.Command{
	Use:   "extract [file|-]",
	Short: "Extract prescription fields from plain text",
	Long:  "Reads recognized text from a file, or stdin when the argument is - or missing, and prints the extracted fields as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "open input")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}
		data, err := io.ReadAll(io.LimitReader(r, 4*extract.MaxScanBytes))
		if err != nil {
			return eris.Wrap(err, "read input")
		}

		fields := cfg.Extraction.Fields()
		if len(extractFields) > 0 {
			parsed, ok := extract.ParseFields(extractFields)
			if !ok {
				return eris.Wrapf(common.ErrInvalidInput, "unknown field in --fields %s", strings.Join(extractFields, ","))
			}
			fields = parsed
		}
		ex, err := loadExtractor(cfg.Extraction)
		if err != nil {
			return err
		}

		res := ex.Extract(string(data), extract.Options{ConfidenceFields: fields, DefaultDate: extractDefaultDate})
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractCmd.Flags().StringSliceVar(&extractFields, "fields", nil, "fields counted toward confidence (default from config)")
	extractCmd.Flags().StringVar(&extractDefaultDate, "default-date", "", "date reported when none is found")
	rootCmd.AddCommand(extractCmd)
}
