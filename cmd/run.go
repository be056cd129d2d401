package cmd

import (
	"fmt"

	"github.com/mselser95/botledger/internal/app"
	"github.com/mselser95/botledger/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot supervisor and management API",
	Long: `Starts the supervisor, which will:
1. Resume every bot stored as RUNNING or BOOTING
2. Boot bots moved to BOOTING through the API or CLI
3. Gracefully stop bots moved to STOPPING, liquidating open positions
4. Serve the management API, /metrics, /health and /ready

On SIGINT or SIGTERM running bots are detached without liquidation so the
next process resumes them.`,
	RunE: runSupervisor,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("skip-migrate", false, "Do not apply ledger migrations at startup")
}

func runSupervisor(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	skipMigrate, _ := cmd.Flags().GetBool("skip-migrate")

	application, err := app.New(cfg, logger, &app.Options{SkipMigrate: skipMigrate})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
