// Package classifier assigns a response strategy to an English message by
// lexicon matching. Classification is pure and deterministic.
package classifier

import (
	"strings"

	"carebot/pkg/config"
)

// Strategy is the response path chosen for one message.
type Strategy string

const (
	Emergency    Strategy = "emergency"
	SearchNeeded Strategy = "search_needed"
	General      Strategy = "general"
)

func (s Strategy) String() string {
	return string(s)
}

// Classifier matches normalized text against an emergency lexicon and a
// search-cue lexicon. It is immutable after construction.
type Classifier struct {
	emergency []string
	search    []string
}

// New builds a classifier. Phrases are normalized the same way as input;
// empty and duplicate phrases are dropped, order is kept.
func New(emergency []string, search []string) *Classifier {
	return &Classifier{
		emergency: compile(emergency),
		search:    compile(search),
	}
}

// FromConfig builds a classifier from the pipeline lexicons.
func FromConfig(cfg config.PipelineConfig) *Classifier {
	return New(cfg.EmergencyLexicon, cfg.SearchLexicon)
}

// Classify returns the strategy for text. Emergency always wins.
func (c *Classifier) Classify(text string) Strategy {
	strategy, _ := c.Match(text)
	return strategy
}

// Match returns the strategy and the lexicon phrase that selected it. The
// phrase is empty for General.
func (c *Classifier) Match(text string) (Strategy, string) {
	normalized := Normalize(text)
	if normalized == "" {
		return General, ""
	}

	if phrase, ok := firstMatch(normalized, c.emergency); ok {
		return Emergency, phrase
	}
	if phrase, ok := firstMatch(normalized, c.search); ok {
		return SearchNeeded, phrase
	}

	return General, ""
}

func firstMatch(text string, phrases []string) (string, bool) {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return phrase, true
		}
	}

	return "", false
}

func compile(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		normalized := Normalize(phrase)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}

	return out
}
