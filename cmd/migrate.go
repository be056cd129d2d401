package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply ledger migrations",
	Long: `Creates or upgrades the ledger schema.

With --backfill-sessions, orders recorded before sessions existed are
grouped into ENDED sessions. Orders of the same bot further apart than
--gap start a new session, and each new session gets its summary rebuilt
from its executions.

Examples:
  botledger migrate
  botledger migrate --backfill-sessions --gap 30m`,
	RunE: runMigrate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("backfill-sessions", false, "Group session-less orders into sessions")
	migrateCmd.Flags().Duration("gap", time.Hour, "Inactivity gap that separates backfilled sessions")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	store, logger, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	backfill, _ := cmd.Flags().GetBool("backfill-sessions")
	if !backfill {
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	}

	gap, _ := cmd.Flags().GetDuration("gap")
	ids, err := store.BackfillSessions(cmd.Context(), gap)
	if err != nil {
		return fmt.Errorf("backfill sessions: %w", err)
	}

	logger.Info("sessions-backfilled", zap.Int("count", len(ids)), zap.Duration("gap", gap))
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied, %d sessions backfilled\n", len(ids))
	return nil
}
