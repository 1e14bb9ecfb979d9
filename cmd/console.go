package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"carebot/pkg/config"
	"carebot/pkg/logger"
	"carebot/pkg/ui/console"

	"github.com/spf13/cobra"
)

var (
	consoleLanguage string
	consoleLogFile  string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive health assistant console",
	Long:  "Opens a terminal chat with the health assistant. Logs are written to a file so they do not disturb the screen.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logPath := consoleLogFile
		if logPath == "" {
			logPath = filepath.Join(os.TempDir(), "carebot-console.log")
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open console log file: %w", err)
		}
		defer logFile.Close()

		appLogger, err := logger.NewWithWriter(cfg.Logging, logFile)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)

		app, err := startAssistant(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer app.Close()

		return console.Run(cmd.Context(), app.session.Ask, console.Info{
			ReasoningModel: cfg.Providers.Reasoning.Model,
			SearchModel:    cfg.Providers.Search.Model,
			Language:       consoleLanguage,
		})
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&consoleLanguage, "lang", "l", "", "preferred reply language code, e.g. es")
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "", "file receiving logs while the console runs")
}
