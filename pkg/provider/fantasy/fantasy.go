package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"carebot/pkg/config"
	providertypes "carebot/pkg/provider/types"
	"carebot/pkg/upstream"
)

const (
	defaultMaxOutputTokens int64 = 512
	defaultTemperature           = 0.2
)

// Retries belong to the upstream client; the agent makes exactly one request.
var noRetries = 0

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client runs single-turn generations through a fantasy agent. It backs the
// summarizer role against the Groq OpenAI-compatible endpoint.
type Client struct {
	provider        languageModelProvider
	name            string
	modelID         string
	maxOutputTokens *int64
	temperature     *float64
	generate        func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

// New builds a fantasy backend named name from cfg.
func New(name string, cfg config.UpstreamConfig) (*Client, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w: %s is not set", name, upstream.ErrNotConfigured, cfg.APIKeyEnv)
	}

	modelID, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	maxTokens := defaultMaxOutputTokens
	temperature := defaultTemperature

	return &Client{
		provider:        fantasyProvider,
		name:            name,
		modelID:         modelID,
		maxOutputTokens: &maxTokens,
		temperature:     &temperature,
		generate:        generateWithFantasyAgent,
	}, nil
}

// Health resolves the configured language model.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Complete runs one stateless generation with an optional system message.
func (c *Client) Complete(ctx context.Context, req providertypes.Request) (providertypes.Completion, error) {
	log := slog.Default().With("component", "provider.fantasy", "backend", c.name, "operation", "complete")
	startedAt := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.Completion{}, upstream.NewError(providertypes.ErrorEmptyResponse, 0, errors.New("prompt is required"))
	}

	languageModel, err := c.provider.LanguageModel(ctx, c.modelID)
	if err != nil {
		return providertypes.Completion{}, upstream.NewError(providertypes.ErrorUpstreamUnavailable, 0, fmt.Errorf("resolve language model: %w", err))
	}

	call := core.AgentCall{Prompt: prompt, MaxRetries: &noRetries}
	if system := strings.TrimSpace(req.System); system != "" {
		call.Messages = []core.Message{{
			Role: core.MessageRoleSystem,
			Content: []core.MessagePart{
				core.TextPart{Text: system},
			},
		}}
	}
	if c.maxOutputTokens != nil {
		call.MaxOutputTokens = c.maxOutputTokens
	}
	if c.temperature != nil {
		call.Temperature = c.temperature
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	log.Debug("provider request started", "model", c.modelID, "prompt_length", len(prompt))
	result, err := generate(ctx, languageModel, call)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Completion{}, classifyError(err)
	}

	text := extractText(result.Response.Content)
	if text == "" {
		return providertypes.Completion{}, upstream.NewError(providertypes.ErrorEmptyResponse, 0, errors.New("generation returned no text"))
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	usage := providertypes.TokenUsage{
		InputTokens:     result.TotalUsage.InputTokens,
		OutputTokens:    result.TotalUsage.OutputTokens,
		TotalTokens:     result.TotalUsage.TotalTokens,
		ReasoningTokens: result.TotalUsage.ReasoningTokens,
	}
	metadata := providertypes.CompletionMetadata{
		Provider: c.name,
		Model:    c.modelID,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Completion{Text: text, Metadata: metadata}, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return upstream.NewError(providertypes.ErrorTimeout, 0, err)
	}

	var providerErr *core.ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode > 0 {
		return upstream.StatusError(providerErr.StatusCode, err)
	}

	return upstream.AsError(err)
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID == "groq" || providerID == "openai" {
		return modelID, nil
	}

	return model, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model, core.WithMaxRetries(noRetries))
	return runtime.Generate(ctx, call)
}
