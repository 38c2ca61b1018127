package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportOut     string
	exportPatient string
	exportFrom    string
	exportTo      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored prescriptions to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDateFlag("from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseDateFlag("to", exportTo)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		var pid *uuid.UUID
		if exportPatient != "" {
			p, err := env.resolvePatient(ctx, exportPatient)
			if err != nil {
				return err
			}
			pid = &p.ID
		}

		xlsx, rows, err := env.Exporter.ExportPrescriptionsXLSX(ctx, pid, from, to)
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOut, xlsx, 0o644); err != nil {
			return eris.Wrap(err, "write output file")
		}
		env.Logger.Info("export written", zap.String("output", exportOut), zap.Int("rows", rows))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "prescriptions.xlsx", "output XLSX path")
	exportCmd.Flags().StringVar(&exportPatient, "patient", "", "patient UUID or name (default: all patients)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "from date YYYY-MM-DD (alone means from..today)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "to date YYYY-MM-DD")
	rootCmd.AddCommand(exportCmd)
}
