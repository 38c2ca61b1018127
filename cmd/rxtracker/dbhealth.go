package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/server"
)

var dbhealthTimeout time.Duration

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Check database connectivity and print row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := server.PingDB(ctx, env.DB, env.Logger, dbhealthTimeout); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "DB health: FAIL (%v)\n", err)
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "DB health: OK")

		patients, err := env.Repos.Patients.List(ctx)
		if err != nil {
			return err
		}
		stats, err := env.Repos.Prescriptions.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "patients: %d\n", len(patients))
		fmt.Fprintf(cmd.OutOrStdout(), "prescriptions: %d (active %d, completed %d, expired %d)\n",
			stats.Total, stats.Active, stats.Completed, stats.Expired)
		return nil
	},
}

func init() {
	dbhealthCmd.Flags().DurationVar(&dbhealthTimeout, "timeout", 3*time.Second, "ping timeout")
	rootCmd.AddCommand(dbhealthCmd)
}
