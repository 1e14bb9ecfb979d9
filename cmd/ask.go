package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"carebot/pkg/config"
	"carebot/pkg/language"
	"carebot/pkg/pipeline"

	"github.com/spf13/cobra"
)

var (
	askLanguage string
	askVerbose  bool
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one health question",
	Long:  "Runs one question through the full pipeline and prints the reply. Logs go to stderr; only the answer goes to stdout.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := resolveQuestion(args)
		if question == "" {
			return fmt.Errorf("question is empty")
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if !askVerbose && strings.TrimSpace(cfg.Logging.Level) == "" {
			cfg.Logging.Level = "warn"
		}
		if _, err := configureLogging(cfg.Logging); err != nil {
			return err
		}

		app, err := startAssistant(cmd.Context(), cfg, askVerbose)
		if err != nil {
			return err
		}
		defer app.Close()

		outcome, err := app.session.Ask(cmd.Context(), question, language.Canonical(askLanguage))
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}

		printOutcome(cmd.OutOrStdout(), cmd.ErrOrStderr(), outcome, askVerbose)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askLanguage, "lang", "l", "", "preferred reply language code, e.g. es")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "log pipeline events and print run details")
}

func resolveQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func printOutcome(stdout io.Writer, stderr io.Writer, outcome pipeline.Outcome, verbose bool) {
	fmt.Fprintln(stdout, strings.TrimSpace(outcome.FinalText))

	if outcome.Degraded {
		fmt.Fprintln(stderr, "note: some services were unavailable; this answer may be incomplete")
	}
	if verbose {
		fmt.Fprintf(stderr, "strategy=%s language=%s degraded=%t elapsed=%s run_id=%s\n",
			outcome.StrategyUsed,
			outcome.LanguageUsed,
			outcome.Degraded,
			outcome.Elapsed.Round(time.Millisecond),
			outcome.RunID,
		)
	}
}
