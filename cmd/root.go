package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "botledger",
	Short: "Trading bot supervisor with an execution ledger",
	Long: `botledger runs trading bots against an exchange adapter service and
records every order intent and fill in a FIFO-matched execution ledger.

The run command starts the supervisor, which keeps one runner per active
bot and reconciles them against the statuses stored in the ledger. The
other commands manage bots and inspect ledger state directly.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// a missing .env is fine, the environment may already be set
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
