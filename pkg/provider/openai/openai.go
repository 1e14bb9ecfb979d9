package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"carebot/pkg/config"
	providertypes "carebot/pkg/provider/types"
	"carebot/pkg/upstream"
)

const defaultTemperature = 0.3

// Client talks to any OpenAI-compatible chat completions endpoint. Reasoning
// uses the Gemini compatibility endpoint and search uses Perplexity.
type Client struct {
	client      osdk.Client
	name        string
	model       string
	temperature float64
}

// New builds a chat completions backend named name from cfg.
func New(name string, cfg config.UpstreamConfig) (*Client, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w: %s is not set", name, upstream.ErrNotConfigured, cfg.APIKeyEnv)
	}

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	// Retries and timeouts are owned by the upstream wrapper.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		client:      osdk.NewClient(opts...),
		name:        name,
		model:       model,
		temperature: defaultTemperature,
	}, nil
}

// Health lists models to confirm the endpoint answers and the key is accepted.
// Endpoints without a models route still count as reachable.
func (c *Client) Health(ctx context.Context) error {
	log := c.logger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		var apiErr *osdk.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusMethodNotAllowed) {
			log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", apiErr.StatusCode)
			return nil
		}
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Complete sends one system+user exchange and returns the first choice.
func (c *Client) Complete(ctx context.Context, req providertypes.Request) (providertypes.Completion, error) {
	log := c.logger().With("operation", "complete")
	startedAt := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.Completion{}, upstream.NewError(providertypes.ErrorEmptyResponse, 0, errors.New("prompt is required"))
	}

	messages := make([]osdk.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, osdk.SystemMessage(system))
	}
	messages = append(messages, osdk.UserMessage(prompt))

	log.Debug("provider request started", "model", c.model, "prompt_length", len(prompt))

	completion, err := c.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model:       osdk.ChatModel(c.model),
		Messages:    messages,
		Temperature: osdk.Float(c.temperature),
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Completion{}, classifyError(err)
	}

	text := ""
	if len(completion.Choices) > 0 {
		text = strings.TrimSpace(completion.Choices[0].Message.Content)
	}
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.Completion{}, upstream.NewError(providertypes.ErrorEmptyResponse, 0, errors.New("completion returned no text"))
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	metadata := providertypes.CompletionMetadata{
		Provider: c.name,
		Model:    c.model,
	}
	usage := providertypes.TokenUsage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		TotalTokens:  completion.Usage.TotalTokens,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Completion{Text: text, Metadata: metadata}, nil
}

func (c *Client) logger() *slog.Logger {
	return slog.Default().With("component", "provider.openai", "backend", c.name)
}

func classifyError(err error) error {
	var apiErr *osdk.Error
	if errors.As(err, &apiErr) {
		return upstream.StatusError(apiErr.StatusCode, err)
	}

	return upstream.AsError(err)
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	// Accept "provider/model" while keeping vendor paths such as
	// "models/gemini-1.5-flash" intact.
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}

	switch providerID {
	case "openai", "gemini", "perplexity":
		return modelID, nil
	default:
		return model, nil
	}
}
