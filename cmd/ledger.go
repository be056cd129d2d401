package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect a bot's execution ledger",
}

//nolint:gochecknoglobals // Cobra boilerplate
var ledgerStatsCmd = &cobra.Command{
	Use:   "stats <bot-id>",
	Short: "Show realized PnL statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerStats,
}

//nolint:gochecknoglobals // Cobra boilerplate
var ledgerPositionsCmd = &cobra.Command{
	Use:   "positions <bot-id>",
	Short: "Show net BUY minus SELL quantity per symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerPositions,
}

//nolint:gochecknoglobals // Cobra boilerplate
var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify <bot-id>",
	Short: "Replay FIFO matching and compare it with the stored ledger",
	Long: `Replays every execution of the bot through FIFO matching and reports
executions whose stored realized PnL or remaining quantity differ from the
replay. Exits non-zero when mismatches are found.`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerVerify,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd, ledgerPositionsCmd, ledgerVerifyCmd)
	ledgerCmd.PersistentFlags().String("format", "table", "Output format: table, json")
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := store.BotStats(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("bot stats: %w", err)
	}

	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	renderStats(cmd.OutOrStdout(), stats)
	return nil
}

func renderStats(w io.Writer, s *ledger.Stats) {
	profitFactor := "n/a"
	if s.ProfitFactor != nil {
		profitFactor = s.ProfitFactor.StringFixed(4)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Bot " + s.BotID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total PnL", s.TotalPnL.String()},
		{"Trades", s.TradeCount},
		{"Wins", s.WinCount},
		{"Losses", s.LossCount},
		{"Win rate", s.WinRate.StringFixed(4)},
		{"Avg PnL", s.AvgPnL.StringFixed(8)},
		{"Gross profit", s.GrossProfit.String()},
		{"Gross loss", s.GrossLoss.String()},
		{"Profit factor", profitFactor},
		{"Max drawdown", s.MaxDrawdown.String()},
		{"Total fees", s.TotalFees.String()},
	})
	t.Render()
}

func runLedgerPositions(cmd *cobra.Command, args []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	positions, err := store.NetPositions(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("net positions: %w", err)
	}

	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		return writeJSON(cmd.OutOrStdout(), positions)
	}
	renderPositions(cmd.OutOrStdout(), positions)
	return nil
}

func renderPositions(w io.Writer, positions []ledger.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Net Qty"})
	for _, p := range positions {
		t.AppendRow(table.Row{p.Symbol, p.NetQty.String()})
	}
	t.Render()
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	v, err := store.VerifyBot(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("verify bot: %w", err)
	}

	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		err = writeJSON(cmd.OutOrStdout(), v)
		if err != nil {
			return err
		}
	} else {
		renderVerification(cmd.OutOrStdout(), v)
	}

	if !v.OK() {
		return fmt.Errorf("ledger of bot %s has %d mismatches", v.BotID, len(v.Mismatches))
	}
	return nil
}

func renderVerification(w io.Writer, v *ledger.Verification) {
	fmt.Fprintf(w, "executions: %d  stored pnl: %s  replayed pnl: %s\n",
		v.ExecutionCount, v.StoredTotalPnL, v.ReplayedTotalPnL)
	if len(v.Mismatches) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Execution", "Field", "Stored", "Expected"})
	for _, m := range v.Mismatches {
		t.AppendRow(table.Row{m.ExecutionID, m.Field, m.Stored.String(), m.Expected.String()})
	}
	t.Render()
}
