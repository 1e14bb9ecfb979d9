package provider

import (
	"fmt"
	"log/slog"

	"carebot/pkg/config"
	providerfantasy "carebot/pkg/provider/fantasy"
	provideropenai "carebot/pkg/provider/openai"
	providertypes "carebot/pkg/provider/types"
)

// New builds the wire backend for one upstream role. Reasoning and search
// speak chat completions directly; the summarizer runs through fantasy.
func New(kind providertypes.ClientKind, cfg config.UpstreamConfig) (providertypes.Backend, error) {
	slog.Default().With("component", "provider.factory").Debug("Resolving provider backend", "kind", string(kind), "model", cfg.Model)

	switch kind {
	case providertypes.KindReasoning, providertypes.KindSearch:
		client, err := provideropenai.New(string(kind), cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case providertypes.KindSummarizer:
		client, err := providerfantasy.New(string(kind), cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported client kind: %s", kind)
	}
}

// UpstreamConfig returns the config block for kind.
func UpstreamConfig(cfg *config.Config, kind providertypes.ClientKind) config.UpstreamConfig {
	switch kind {
	case providertypes.KindSearch:
		return cfg.Providers.Search
	case providertypes.KindSummarizer:
		return cfg.Providers.Summarizer
	default:
		return cfg.Providers.Reasoning
	}
}
