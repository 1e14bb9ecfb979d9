package upstream

import (
	"fmt"
	"strings"

	providertypes "carebot/pkg/provider/types"
)

const (
	reasoningSystemPrompt = "You are a careful health information assistant. Give clear, practical, " +
		"evidence-based guidance in plain language. Do not diagnose. Recommend seeing a healthcare " +
		"professional when symptoms are serious, persistent or unclear."
	searchSystemPrompt = "You are a medical research assistant. Answer with recent, reliable information " +
		"from reputable health sources and keep the answer factual."
	summarizerSystemPrompt = "Summarize this health information concisely. Keep every safety-relevant " +
		"instruction and do not add new medical claims."
)

// BuildRequest renders the prompt sent to the backend for kind. Extra is the
// search context for reasoning and is ignored elsewhere.
func BuildRequest(kind providertypes.ClientKind, prompt string, extra string) providertypes.Request {
	prompt = strings.TrimSpace(prompt)
	extra = strings.TrimSpace(extra)

	switch kind {
	case providertypes.KindSearch:
		return providertypes.Request{
			System: searchSystemPrompt,
			Prompt: fmt.Sprintf("Provide recent, reliable information about: %s", prompt),
		}
	case providertypes.KindSummarizer:
		return providertypes.Request{
			System: summarizerSystemPrompt,
			Prompt: prompt,
		}
	default:
		if extra != "" {
			prompt = fmt.Sprintf("Based on this recent health information: %s\n\nUser question: %s", extra, prompt)
		}
		return providertypes.Request{
			System: reasoningSystemPrompt,
			Prompt: prompt,
		}
	}
}
