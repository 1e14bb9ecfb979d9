package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"carebot/pkg/bus"
	"carebot/pkg/config"
	"carebot/pkg/gateway"
	"carebot/pkg/language"
	"carebot/pkg/logger"
	"carebot/pkg/pipeline"
	"carebot/pkg/provider"
	providertypes "carebot/pkg/provider/types"
	"carebot/pkg/ratelimit"
	"carebot/pkg/session"
	"carebot/pkg/upstream"
)

// assistant is the wired pipeline shared by every command: the upstream
// clients, the translator, the rate limiter and a worker session on the bus.
type assistant struct {
	bus        *bus.MessageBus
	limiter    *ratelimit.Limiter
	translator language.Translator
	clients    map[providertypes.ClientKind]*upstream.Client
	session    *session.Session
}

// startAssistant builds the pipeline from cfg and starts its workers. A
// missing upstream key leaves that client unconfigured; its calls fail and
// the pipeline degrades instead of refusing to start.
func startAssistant(ctx context.Context, cfg *config.Config, observeEvents bool) (*assistant, error) {
	log := slog.Default().With("component", "cmd.wiring")

	clients := make(map[providertypes.ClientKind]*upstream.Client, len(providertypes.Kinds))
	for _, kind := range providertypes.Kinds {
		upstreamCfg := provider.UpstreamConfig(cfg, kind)
		backend, err := provider.New(kind, upstreamCfg)
		if err != nil {
			log.Warn("Upstream client unavailable", "client", string(kind), "error", err)
		}
		clients[kind] = upstream.New(kind, backend, upstream.OptionsFromConfig(upstreamCfg))
	}

	translator := newTranslator(cfg.Language)
	limiter := ratelimit.FromConfig(cfg.Providers)
	messageBus := bus.NewMessageBus()

	orchestrator := pipeline.New(cfg.Pipeline, pipeline.Dependencies{
		Translator: translator,
		Clients: pipeline.Clients{
			Reasoning:  clients[providertypes.KindReasoning],
			Search:     clients[providertypes.KindSearch],
			Summarizer: clients[providertypes.KindSummarizer],
		},
		Limiter:        limiter,
		Events:         messageBus,
		LocalizeMargin: cfg.Language.Timeout(),
	})

	s, err := session.Start(ctx, messageBus, orchestrator, session.Options{ObserveEvents: observeEvents})
	if err != nil {
		messageBus.Close()
		return nil, fmt.Errorf("start pipeline session: %w", err)
	}

	return &assistant{
		bus:        messageBus,
		limiter:    limiter,
		translator: translator,
		clients:    clients,
		session:    s,
	}, nil
}

// newTranslator uses the translation provider when one is configured and
// keeps every reply in English otherwise.
func newTranslator(cfg config.LanguageConfig) language.Translator {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		slog.Default().With("component", "cmd.wiring").Info("No translation provider configured; replies stay in English")
		return language.Identity{}
	}

	return language.New(cfg)
}

// probes returns one reachability check per upstream, plus the translation
// provider when one is in use.
func (a *assistant) probes() []gateway.Probe {
	probes := make([]gateway.Probe, 0, len(a.clients)+1)
	for _, kind := range providertypes.Kinds {
		client, ok := a.clients[kind]
		if !ok {
			continue
		}
		probes = append(probes, gateway.Probe{Name: string(client.Kind()), Check: client.Health})
	}

	if service, ok := a.translator.(*language.Service); ok {
		probes = append(probes, gateway.Probe{Name: "language", Check: service.Health})
	}

	return probes
}

func (a *assistant) Close() {
	a.session.Close()
	a.bus.Close()
}

// configureLogging installs the configured logger as the process default.
func configureLogging(cfg config.LoggingConfig) (*slog.Logger, error) {
	appLogger, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	return appLogger, nil
}
