package upstream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"carebot/pkg/config"
	providertypes "carebot/pkg/provider/types"
)

const (
	defaultAttempts   = 2
	defaultRetryDelay = 250 * time.Millisecond
)

// Options tunes one upstream client.
type Options struct {
	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
}

// OptionsFromConfig maps upstream config onto client options.
func OptionsFromConfig(cfg config.UpstreamConfig) Options {
	return Options{
		Timeout:  cfg.Timeout(),
		Attempts: cfg.Attempts,
	}
}

// Client wraps a backend with a per-attempt timeout, bounded retry and error
// classification. A nil backend makes every call fail as unavailable.
type Client struct {
	kind       providertypes.ClientKind
	backend    providertypes.Backend
	timeout    time.Duration
	attempts   int
	retryDelay time.Duration
	log        *slog.Logger
}

// New builds a client for kind over backend.
func New(kind providertypes.ClientKind, backend providertypes.Backend, opts Options) *Client {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	return &Client{
		kind:       kind,
		backend:    backend,
		timeout:    opts.Timeout,
		attempts:   attempts,
		retryDelay: retryDelay,
		log:        slog.Default().With("component", "upstream", "client", string(kind)),
	}
}

// Kind returns the upstream role.
func (c *Client) Kind() providertypes.ClientKind {
	return c.kind
}

// Configured reports whether a backend is attached.
func (c *Client) Configured() bool {
	return c != nil && c.backend != nil
}

// Call runs one upstream invocation and always returns a result; failures are
// reported through OK and ErrorKind.
func (c *Client) Call(ctx context.Context, prompt string, extra string) providertypes.CallResult {
	startedAt := time.Now()
	if !c.Configured() {
		c.log.Debug("upstream call skipped", "error", ErrNotConfigured)
		return providertypes.Failed(c.kind, providertypes.ErrorUpstreamUnavailable, 0, 0)
	}

	req := BuildRequest(c.kind, prompt, extra)
	attempts := 0
	var completion providertypes.Completion

	operation := func() error {
		attempts++
		attemptCtx, cancel := c.withTimeout(ctx)
		defer cancel()

		result, err := c.backend.Complete(attemptCtx, req)
		if err != nil {
			categorized := AsError(err)
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				categorized = NewError(providertypes.ErrorTimeout, categorized.Status, err)
			}
			c.log.Debug("upstream attempt failed",
				"attempt", attempts,
				"error_kind", string(categorized.Kind),
				"status", categorized.Status,
				"error", err,
			)
			if !categorized.Temporary() {
				return backoff.Permanent(categorized)
			}
			return categorized
		}

		if strings.TrimSpace(result.Text) == "" {
			return backoff.Permanent(NewError(providertypes.ErrorEmptyResponse, 0, errors.New("backend returned no text")))
		}

		completion = result
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.attempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	latency := time.Since(startedAt).Milliseconds()

	if err != nil {
		kind := KindFromError(err)
		c.log.Info("upstream call failed", "attempts", attempts, "latency_ms", latency, "error_kind", string(kind))
		return providertypes.Failed(c.kind, kind, latency, attempts)
	}

	c.log.Debug("upstream call completed", "attempts", attempts, "latency_ms", latency, "response_length", len(completion.Text))
	return providertypes.CallResult{
		Source:    c.kind,
		Text:      strings.TrimSpace(completion.Text),
		OK:        true,
		LatencyMs: latency,
		Attempts:  attempts,
		Usage:     completion.Metadata.Usage,
	}
}

// Health probes the backend once.
func (c *Client) Health(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.Health(ctx)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.timeout)
}
