package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/internal/strategy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//nolint:gochecknoglobals // Cobra boilerplate
var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "Manage bots stored in the ledger",
	Long: `Create, list, start, stop and delete bots.

start and stop only record the request. A running supervisor (botledger run)
boots or gracefully stops the bot on its next reconciliation.`,
}

//nolint:gochecknoglobals // Cobra boilerplate
var botsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bots",
	Args:  cobra.NoArgs,
	RunE:  runBotsList,
}

//nolint:gochecknoglobals // Cobra boilerplate
var botsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a STOPPED bot",
	Long: `Creates a bot from flags.

Examples:
  botledger bots create --name fade-btc --symbol BTC/USDT --exchange key-1 \
    --strategy orderflow_exhaustion_v1 --params '{"delta_ratio_threshold": 3}'`,
	Args: cobra.NoArgs,
	RunE: runBotsCreate,
}

//nolint:gochecknoglobals // Cobra boilerplate
var botsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Create bots from a YAML file",
	Long: `Creates one STOPPED bot per entry of a YAML file:

bots:
  - name: fade-btc
    global_settings:
      exchange: key-1
      symbol: BTC/USDT
    pipeline:
      strategy:
        id: orderflow_exhaustion_v1
        params:
          delta_ratio_threshold: 3`,
	Args: cobra.NoArgs,
	RunE: runBotsImport,
}

//nolint:gochecknoglobals // Cobra boilerplate
var botsStartCmd = &cobra.Command{
	Use:   "start <bot-id>",
	Short: "Request a bot start",
	Args:  cobra.ExactArgs(1),
	RunE:  runBotsStart,
}

//nolint:gochecknoglobals // Cobra boilerplate
var botsStopCmd = &cobra.Command{
	Use:   "stop <bot-id>",
	Short: "Request a graceful bot stop",
	Args:  cobra.ExactArgs(1),
	RunE:  runBotsStop,
}

//nolint:gochecknoglobals // Cobra boilerplate
var botsDeleteCmd = &cobra.Command{
	Use:   "delete <bot-id>",
	Short: "Delete a STOPPED bot with its ledger history",
	Args:  cobra.ExactArgs(1),
	RunE:  runBotsDelete,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(botsCmd)
	botsCmd.AddCommand(botsListCmd, botsCreateCmd, botsImportCmd, botsStartCmd, botsStopCmd, botsDeleteCmd)

	botsListCmd.Flags().StringSlice("status", nil, "Filter by status (STOPPED, BOOTING, RUNNING, STOPPING)")
	botsListCmd.Flags().String("format", "table", "Output format: table, json")

	botsCreateCmd.Flags().String("name", "", "Bot name")
	botsCreateCmd.Flags().String("symbol", "", "Market symbol, e.g. BTC/USDT")
	botsCreateCmd.Flags().String("exchange", "", "Exchange adapter key id")
	botsCreateCmd.Flags().String("strategy", string(strategy.KindOrderflowExhaustion), "Strategy id")
	botsCreateCmd.Flags().String("params", "", "Strategy params as a JSON object")
	_ = botsCreateCmd.MarkFlagRequired("name")
	_ = botsCreateCmd.MarkFlagRequired("symbol")

	botsImportCmd.Flags().StringP("file", "f", "", "YAML file with bot definitions")
	_ = botsImportCmd.MarkFlagRequired("file")

	botsDeleteCmd.Flags().Bool("force", false, "Delete even if the bot is not STOPPED")
}

// BotSpec is one bot definition in an import file.
type BotSpec struct {
	Name           string                `yaml:"name"`
	GlobalSettings ledger.GlobalSettings `yaml:"global_settings"`
	Pipeline       ledger.Pipeline       `yaml:"pipeline"`
}

// BotsFile is the layout of an import file.
type BotsFile struct {
	Bots []BotSpec `yaml:"bots"`
}

// parseBotsFile decodes and validates an import file.
func parseBotsFile(r io.Reader) ([]BotSpec, error) {
	var file BotsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(&file)
	if err != nil {
		return nil, fmt.Errorf("decode bots file: %w", err)
	}
	if len(file.Bots) == 0 {
		return nil, fmt.Errorf("bots file defines no bots")
	}

	for i, spec := range file.Bots {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("bot %d: name is required", i)
		}
		err = strategy.Validate(ledger.BotConfig{GlobalSettings: spec.GlobalSettings, Pipeline: spec.Pipeline})
		if err != nil {
			return nil, fmt.Errorf("bot %d (%s): %w", i, spec.Name, err)
		}
	}

	return file.Bots, nil
}

func runBotsList(cmd *cobra.Command, _ []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	raw, _ := cmd.Flags().GetStringSlice("status")
	filter := ledger.ListBotsFilter{}
	for _, s := range raw {
		status := ledger.BotStatus(strings.ToUpper(s))
		if !status.Valid() {
			return fmt.Errorf("%w: %q", ledger.ErrInvalidStatus, s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	bots, err := store.ListBots(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), bots)
	}

	renderBots(cmd.OutOrStdout(), bots)
	return nil
}

func renderBots(w io.Writer, bots []ledger.Bot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Status", "Strategy", "Symbol", "Message"})
	for _, b := range bots {
		t.AppendRow(table.Row{
			b.ID, b.Name, b.Status,
			b.Config.Pipeline.Strategy.ID,
			b.Config.GlobalSettings.Symbol,
			b.StatusMessage,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(bots)})
	t.Render()
}

func runBotsCreate(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("name")
	symbol, _ := cmd.Flags().GetString("symbol")
	exchangeKey, _ := cmd.Flags().GetString("exchange")
	strategyID, _ := cmd.Flags().GetString("strategy")
	rawParams, _ := cmd.Flags().GetString("params")

	params := map[string]any{}
	if rawParams != "" {
		err := json.Unmarshal([]byte(rawParams), &params)
		if err != nil {
			return fmt.Errorf("parse --params: %w", err)
		}
	}

	cfg := ledger.BotConfig{
		GlobalSettings: ledger.GlobalSettings{Exchange: exchangeKey, Symbol: symbol},
		Pipeline:       ledger.Pipeline{Strategy: ledger.StrategyNode{ID: strategyID, Params: params}},
	}
	err := strategy.Validate(cfg)
	if err != nil {
		return fmt.Errorf("validate bot: %w", err)
	}

	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	bot, err := store.CreateBot(cmd.Context(), name, cfg)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created bot %s (%s)\n", bot.ID, bot.Name)
	return nil
}

func runBotsImport(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bots file: %w", err)
	}
	defer f.Close()

	specs, err := parseBotsFile(f)
	if err != nil {
		return err
	}

	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	created := make([]ledger.Bot, 0, len(specs))
	for _, spec := range specs {
		bot, createErr := store.CreateBot(cmd.Context(), spec.Name, ledger.BotConfig{
			GlobalSettings: spec.GlobalSettings,
			Pipeline:       spec.Pipeline,
		})
		if createErr != nil {
			return fmt.Errorf("create bot %s: %w", spec.Name, createErr)
		}
		created = append(created, *bot)
	}

	renderBots(cmd.OutOrStdout(), created)
	return nil
}

func runBotsStart(cmd *cobra.Command, args []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	bot, err := store.RequestStart(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("start bot: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "bot %s is %s\n", bot.ID, bot.Status)
	return nil
}

func runBotsStop(cmd *cobra.Command, args []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	bot, err := store.RequestStop(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("stop bot: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "bot %s is %s\n", bot.ID, bot.Status)
	return nil
}

func runBotsDelete(cmd *cobra.Command, args []string) error {
	store, _, closeFn, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	bot, err := store.GetBot(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}

	force, _ := cmd.Flags().GetBool("force")
	if bot.Status != ledger.BotStopped && !force {
		return fmt.Errorf("bot %s is %s, stop it first or pass --force", bot.ID, bot.Status)
	}

	err = store.DeleteBot(cmd.Context(), bot.ID)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deleted bot %s\n", bot.ID)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
