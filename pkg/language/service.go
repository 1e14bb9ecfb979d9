package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"carebot/pkg/config"
	"carebot/pkg/logger"
)

const (
	maxAttempts       = 2
	defaultRetryDelay = 200 * time.Millisecond
	maxErrorBody      = 512
)

// Service is a client for a LibreTranslate-compatible HTTP API.
type Service struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	retryDelay time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// New builds a translation client from cfg.
func New(cfg config.LanguageConfig) *Service {
	return &Service{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey(),
		timeout:    cfg.Timeout(),
		retryDelay: defaultRetryDelay,
		httpClient: &http.Client{},
		log:        slog.Default().With("component", "language"),
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("translation provider status %d: %s", e.status, e.body)
}

// Detect returns the detected language, or English with zero confidence
// when detection fails.
func (s *Service) Detect(ctx context.Context, text string) Detected {
	if strings.TrimSpace(text) == "" {
		return Detected{Code: English, Confidence: 0}
	}

	var out []struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	}
	err := s.do(ctx, http.MethodPost, "/detect", map[string]string{"q": text}, &out)
	if err != nil || len(out) == 0 {
		s.log.Warn("language detection failed", "error", err, "text_preview", logger.Preview(text))
		return Detected{Code: English, Confidence: 0}
	}

	best := out[0]
	for _, candidate := range out[1:] {
		if candidate.Confidence > best.Confidence {
			best = candidate
		}
	}

	code := Canonical(best.Language)
	if code == "" {
		return Detected{Code: English, Confidence: 0}
	}

	return Detected{Code: code, Confidence: normalizeConfidence(best.Confidence)}
}

// Translate returns text translated from one language to another. Equal
// languages and failures return text unchanged.
func (s *Service) Translate(ctx context.Context, text string, from string, to string) string {
	source, target := Canonical(from), Canonical(to)
	if strings.TrimSpace(text) == "" || target == "" || source == target {
		return text
	}
	if source == "" {
		source = "auto"
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	err := s.do(ctx, http.MethodPost, "/translate", map[string]string{
		"q":      text,
		"source": source,
		"target": target,
		"format": "text",
	}, &out)
	if err != nil {
		s.log.Warn("translation failed", "from", source, "to", target, "error", err)
		return text
	}

	translated := strings.TrimSpace(out.TranslatedText)
	if translated == "" {
		s.log.Warn("translation failed", "from", source, "to", target, "error", "empty translation")
		return text
	}

	return translated
}

// Health checks that the provider answers its languages listing.
func (s *Service) Health(ctx context.Context) error {
	var out []struct {
		Code string `json:"code"`
	}
	if err := s.doOnce(ctx, http.MethodGet, "/languages", nil, &out); err != nil {
		return fmt.Errorf("language health check failed: %w", err)
	}

	return nil
}

// do runs one request with at most one retry on transient failure.
func (s *Service) do(ctx context.Context, method string, path string, payload map[string]string, out any) error {
	operation := func() error {
		err := s.doOnce(ctx, method, path, payload, out)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), maxAttempts-1),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

func (s *Service) doOnce(ctx context.Context, method string, path string, payload map[string]string, out any) error {
	if s.baseURL == "" {
		return errors.New("translation provider is not configured")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		if s.apiKey != "" {
			payload["api_key"] = s.apiKey
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// transient reports whether err is worth one more attempt: timeouts,
// connection failures, 429 and 5xx.
func transient(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.status == http.StatusTooManyRequests || status.status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// normalizeConfidence maps provider scores to [0, 1]. LibreTranslate reports
// percentages.
func normalizeConfidence(value float64) float64 {
	if value > 1 {
		value /= 100
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}

	return value
}
