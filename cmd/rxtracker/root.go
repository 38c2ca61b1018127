package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg        *common.Config
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rxtracker",
	Short: "Prescription document OCR and field extraction",
	Long: "Recognizes prescription scans and text, extracts medication, dosage, refills, patient name and date, " +
		"stores the results and serves them over gRPC and HTTP.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := common.LoadConfig(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if _, err := common.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./rxtracker.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
