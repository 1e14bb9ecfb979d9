package cmd

import (
	"context"
	"testing"

	channelpkg "carebot/pkg/channel"
	"carebot/pkg/config"
	"carebot/pkg/language"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersRequiresTelegramToken(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Telegram.Enabled = true
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error for telegram without a token")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "slack"}}
	if got := enabledChannelNames(adapters); got != "telegram,slack" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,slack")
	}
}

func TestStartAssistantRegistersProbes(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{cfg.Providers.Reasoning.APIKeyEnv, cfg.Providers.Search.APIKeyEnv, cfg.Providers.Summarizer.APIKeyEnv} {
		t.Setenv(name, "")
	}

	app, err := startAssistant(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("startAssistant: %v", err)
	}
	defer app.Close()

	var names []string
	for _, probe := range app.probes() {
		names = append(names, probe.Name)
	}
	want := []string{"search", "reasoning", "summarizer"}
	if len(names) != len(want) {
		t.Fatalf("probe names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("probe names = %v, want %v", names, want)
		}
	}

	if err := app.probes()[1].Check(context.Background()); err == nil {
		t.Fatal("expected unconfigured reasoning client to fail its probe")
	}
}

func TestStartAssistantWithoutTranslationProviderUsesIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Language.BaseURL = ""

	app, err := startAssistant(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("startAssistant: %v", err)
	}
	defer app.Close()

	if _, ok := app.translator.(language.Identity); !ok {
		t.Fatalf("translator = %T, want language.Identity", app.translator)
	}
	for _, probe := range app.probes() {
		if probe.Name == "language" {
			t.Fatal("language probe registered without a translation provider")
		}
	}
}

func TestStartAssistantWithTranslationProviderProbesIt(t *testing.T) {
	cfg := config.Default()
	cfg.Language.BaseURL = "http://127.0.0.1:5000"

	app, err := startAssistant(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("startAssistant: %v", err)
	}
	defer app.Close()

	if _, ok := app.translator.(*language.Service); !ok {
		t.Fatalf("translator = %T, want *language.Service", app.translator)
	}
	probes := app.probes()
	if last := probes[len(probes)-1]; last.Name != "language" {
		t.Fatalf("last probe = %q, want language", last.Name)
	}
}
