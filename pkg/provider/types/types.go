package types

import "context"

// ClientKind names one upstream AI role.
type ClientKind string

const (
	KindReasoning  ClientKind = "reasoning"
	KindSearch     ClientKind = "search"
	KindSummarizer ClientKind = "summarizer"
)

// Kinds lists every upstream role in pipeline order.
var Kinds = []ClientKind{KindSearch, KindReasoning, KindSummarizer}

// ErrorKind classifies why an upstream or translation call failed.
type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorTimeout             ErrorKind = "timeout"
	ErrorUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrorRateLimited         ErrorKind = "rate_limited"
	ErrorTranslationFailure  ErrorKind = "translation_failure"
	ErrorEmptyResponse       ErrorKind = "empty_response"
)

// Request is one completion request sent to a backend.
type Request struct {
	System string
	Prompt string
}

// Completion is the normalized backend response payload.
type Completion struct {
	Text     string
	Metadata CompletionMetadata
}

// CompletionMetadata carries provider/model identity and optional usage accounting.
type CompletionMetadata struct {
	Provider string
	Model    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0
}

// Backend is a wire client for one upstream AI service.
type Backend interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Health(ctx context.Context) error
}

// CallResult is the uniform record of one upstream invocation.
type CallResult struct {
	Source    ClientKind
	Text      string
	OK        bool
	LatencyMs int64
	ErrorKind ErrorKind
	Attempts  int
	Usage     *TokenUsage
}

// Failed builds a failed CallResult for kind.
func Failed(kind ClientKind, errKind ErrorKind, latencyMs int64, attempts int) CallResult {
	return CallResult{
		Source:    kind,
		OK:        false,
		LatencyMs: latencyMs,
		ErrorKind: errKind,
		Attempts:  attempts,
	}
}
