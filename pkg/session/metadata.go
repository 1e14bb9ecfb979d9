package session

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"carebot/pkg/bus"
	"carebot/pkg/classifier"
	"carebot/pkg/language"
	"carebot/pkg/pipeline"
	providertypes "carebot/pkg/provider/types"
)

const (
	StrategyKey           = "strategy"
	LanguageKey           = "language"
	DegradedKey           = "degraded"
	RunIDKey              = "run_id"
	ElapsedMsKey          = "elapsed_ms"
	DetectedLanguageKey   = "detected_language"
	DetectedConfidenceKey = "detected_confidence"
	UsageInputTokensKey   = "usage_input_tokens"
	UsageOutputTokensKey  = "usage_output_tokens"
	UsageTotalTokensKey   = "usage_total_tokens"
	CallsJSONKey          = "calls_json"
)

// OutcomeMetadata flattens an outcome into outbound metadata so it can
// cross the bus.
func OutcomeMetadata(outcome pipeline.Outcome) map[string]string {
	metadata := map[string]string{
		StrategyKey:  string(outcome.StrategyUsed),
		LanguageKey:  outcome.LanguageUsed,
		DegradedKey:  strconv.FormatBool(outcome.Degraded),
		RunIDKey:     outcome.RunID,
		ElapsedMsKey: strconv.FormatInt(outcome.Elapsed.Milliseconds(), 10),
	}

	if outcome.Detected.Code != "" {
		metadata[DetectedLanguageKey] = outcome.Detected.Code
		metadata[DetectedConfidenceKey] = strconv.FormatFloat(outcome.Detected.Confidence, 'f', 3, 64)
	}

	if usage := TotalUsage(outcome.Calls); usage != nil {
		metadata[UsageInputTokensKey] = strconv.FormatInt(usage.InputTokens, 10)
		metadata[UsageOutputTokensKey] = strconv.FormatInt(usage.OutputTokens, 10)
		metadata[UsageTotalTokensKey] = strconv.FormatInt(usage.TotalTokens, 10)
	}

	if len(outcome.Calls) > 0 {
		// Call texts are already folded into FinalText.
		calls := make([]providertypes.CallResult, len(outcome.Calls))
		for i, call := range outcome.Calls {
			call.Text = ""
			calls[i] = call
		}
		payload, err := json.Marshal(calls)
		if err == nil {
			metadata[CallsJSONKey] = string(payload)
		}
	}

	return metadata
}

// OutcomeFromOutbound rebuilds an outcome from a reply produced by a
// pipeline worker.
func OutcomeFromOutbound(outbound bus.OutboundMessage) pipeline.Outcome {
	outcome := pipeline.Outcome{FinalText: outbound.Content}
	if outbound.Metadata == nil {
		return outcome
	}

	md := outbound.Metadata
	outcome.StrategyUsed = classifier.Strategy(md[StrategyKey])
	outcome.LanguageUsed = md[LanguageKey]
	outcome.Degraded, _ = strconv.ParseBool(md[DegradedKey])
	outcome.RunID = md[RunIDKey]
	outcome.Elapsed = time.Duration(parseInt64(md[ElapsedMsKey])) * time.Millisecond

	if code := md[DetectedLanguageKey]; code != "" {
		confidence, _ := strconv.ParseFloat(md[DetectedConfidenceKey], 64)
		outcome.Detected = language.Detected{Code: code, Confidence: confidence}
	}

	if raw := strings.TrimSpace(md[CallsJSONKey]); raw != "" {
		var calls []providertypes.CallResult
		if err := json.Unmarshal([]byte(raw), &calls); err == nil && len(calls) > 0 {
			outcome.Calls = calls
		}
	}

	return outcome
}

// TotalUsage sums token usage across calls; nil when no call reported any.
func TotalUsage(calls []providertypes.CallResult) *providertypes.TokenUsage {
	var total providertypes.TokenUsage
	for _, call := range calls {
		if call.Usage == nil {
			continue
		}
		total.InputTokens += call.Usage.InputTokens
		total.OutputTokens += call.Usage.OutputTokens
		total.TotalTokens += call.Usage.TotalTokens
		total.ReasoningTokens += call.Usage.ReasoningTokens
	}

	if total.IsZero() {
		return nil
	}

	return &total
}

func parseInt64(value string) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}

	return parsed
}
