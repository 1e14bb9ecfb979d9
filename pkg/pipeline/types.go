package pipeline

import (
	"context"
	"time"

	"carebot/pkg/classifier"
	"carebot/pkg/language"
	providertypes "carebot/pkg/provider/types"
)

// State is a step of one pipeline run. Every run ends in Done.
type State string

const (
	StateReceived           State = "received"
	StateLanguageNormalized State = "language_normalized"
	StateClassified         State = "classified"
	StatePipelined          State = "pipelined"
	StateFormatted          State = "formatted"
	StateDone               State = "done"
)

// InboundMessage is the input of one run. PreferredLanguage is optional.
type InboundMessage struct {
	UserID            string
	RawText           string
	PreferredLanguage string
}

// Outcome is the result of one run. A run always produces an Outcome.
type Outcome struct {
	FinalText    string
	LanguageUsed string
	StrategyUsed classifier.Strategy
	Degraded     bool

	Detected language.Detected
	Calls    []providertypes.CallResult
	RunID    string
	Elapsed  time.Duration
}

// Caller is one upstream AI client. *upstream.Client implements it.
type Caller interface {
	Call(ctx context.Context, prompt string, extra string) providertypes.CallResult
}

// Clients groups the three upstream roles. A nil client fails every call.
type Clients struct {
	Reasoning  Caller
	Search     Caller
	Summarizer Caller
}

func (c Clients) byKind(kind providertypes.ClientKind) Caller {
	switch kind {
	case providertypes.KindReasoning:
		return c.Reasoning
	case providertypes.KindSearch:
		return c.Search
	case providertypes.KindSummarizer:
		return c.Summarizer
	default:
		return nil
	}
}

// Limiter admits upstream calls. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(kind providertypes.ClientKind) bool
}
