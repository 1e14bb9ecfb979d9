package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"carebot/pkg/channel"
	"carebot/pkg/channel/telegram"
	"carebot/pkg/config"
	"carebot/pkg/gateway"
	"carebot/pkg/store"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway",
	Long:  "Runs the health assistant behind its chat channels with health, readiness and dependency endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := configureLogging(cfg.Logging)
		if err != nil {
			return err
		}
		log := appLogger.With("component", "cmd.serve")

		adapters, err := enabledAdapters(cfg, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conversations, err := store.Open(runCtx, cfg.Store.Path)
		if err != nil {
			log.Error("Failed to open conversation store", "path", cfg.Store.Path, "error", err)
			return err
		}
		defer conversations.Close()

		app, err := startAssistant(runCtx, cfg, true)
		if err != nil {
			log.Error("Failed to start pipeline", "error", err)
			return err
		}
		defer app.Close()

		probes := append(app.probes(), gateway.Probe{Name: "store", Check: conversations.Ping})
		svc, err := gateway.NewService(cfg, gateway.Dependencies{
			Session: app.session,
			Store:   conversations,
			Probes:  probes,
			Quotas:  app.limiter,
		}, adapters, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"reasoning_model", cfg.Providers.Reasoning.Model,
			"search_model", cfg.Providers.Search.Model,
			"summarizer_model", cfg.Providers.Summarizer.Model,
			"deadline_ms", cfg.Pipeline.DeadlineMs,
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
