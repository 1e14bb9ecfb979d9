// Package pipeline turns one inbound message into one reply: it normalizes
// language, picks a strategy, drives the upstream clients under a shared
// deadline and formats the answer. ProcessMessage never fails.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"carebot/pkg/bus"
	"carebot/pkg/classifier"
	"carebot/pkg/config"
	"carebot/pkg/format"
	"carebot/pkg/language"
	"carebot/pkg/logger"
	providertypes "carebot/pkg/provider/types"
)

const defaultLocalizeMargin = 5 * time.Second

// Dependencies are the collaborators of an Orchestrator. Only Clients is
// required; a nil Translator keeps everything in English.
type Dependencies struct {
	Translator language.Translator
	Clients    Clients
	Limiter    Limiter
	Events     bus.EventPublisher
	// LocalizeMargin bounds the final translation after the run deadline.
	LocalizeMargin time.Duration
}

// Orchestrator is safe for concurrent runs; it holds no per-run state.
type Orchestrator struct {
	translator     language.Translator
	classifier     *classifier.Classifier
	formatter      *format.Formatter
	clients        Clients
	limiter        Limiter
	events         bus.EventPublisher
	deadline       time.Duration
	localizeMargin time.Duration
	threshold      float64
	log            *slog.Logger
}

// New builds an orchestrator from the pipeline config.
func New(cfg config.PipelineConfig, deps Dependencies) *Orchestrator {
	translator := deps.Translator
	if translator == nil {
		translator = language.Identity{}
	}

	deadline := cfg.Deadline()
	if deadline <= 0 {
		deadline = time.Duration(config.DefaultDeadlineMs) * time.Millisecond
	}
	margin := deps.LocalizeMargin
	if margin <= 0 {
		margin = defaultLocalizeMargin
	}

	return &Orchestrator{
		translator:     translator,
		classifier:     classifier.FromConfig(cfg),
		formatter:      format.New(cfg, translator),
		clients:        deps.Clients,
		limiter:        deps.Limiter,
		events:         deps.Events,
		deadline:       deadline,
		localizeMargin: margin,
		threshold:      cfg.ConfidenceThreshold(),
		log:            slog.Default().With("component", "pipeline"),
	}
}

// run carries the mutable state of one ProcessMessage call.
type run struct {
	id        string
	startedAt time.Time
	deadline  time.Time
	state     State
	calls     []providertypes.CallResult
	degraded  bool
	log       *slog.Logger
}

func (r *run) advance(state State) {
	r.state = state
	r.log.Debug("pipeline state", "state", string(state), "elapsed_ms", time.Since(r.startedAt).Milliseconds())
}

// ProcessMessage runs the pipeline for msg. It always returns an Outcome:
// failures become degraded answers or the fallback template, and panics
// from collaborators are recovered.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg InboundMessage) (outcome Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := time.Now()
	r := &run{
		id:        uuid.NewString(),
		startedAt: startedAt,
		deadline:  startedAt.Add(o.deadline),
	}
	r.log = o.log.With("run_id", r.id)

	defer func() {
		if recovered := recover(); recovered != nil {
			r.log.Error("pipeline run panicked", "state", string(r.state), "panic", fmt.Sprint(recovered))
			outcome = Outcome{
				FinalText:    o.formatter.Fallback(),
				LanguageUsed: language.English,
				StrategyUsed: classifier.General,
				Degraded:     true,
				Calls:        r.calls,
				RunID:        r.id,
			}
		}
		outcome.Elapsed = time.Since(startedAt)
		o.finish(ctx, r, msg, outcome)
	}()

	return o.process(ctx, r, msg)
}

func (o *Orchestrator) process(ctx context.Context, r *run, msg InboundMessage) Outcome {
	r.advance(StateReceived)
	text := strings.TrimSpace(msg.RawText)
	preferred := language.Canonical(msg.PreferredLanguage)
	o.publish(ctx, r, msg, bus.EventMessageReceived, nil, "")
	r.log.Debug("message received", "user_id", msg.UserID, "text_preview", logger.Preview(text), "preferred_language", preferred)

	if text == "" {
		return o.fallbackOutcome(ctx, r, classifier.General, preferred, language.Detected{Code: language.English})
	}

	// Emergency phrases in the raw text skip detection and translation.
	if strategy, phrase := o.classifier.Match(text); strategy == classifier.Emergency {
		target := preferred
		if target == "" {
			target = language.Hint(text)
		}
		return o.emergencyOutcome(ctx, r, msg, phrase, target, language.Detected{Code: orEnglish(target)})
	}

	budget, cancel := context.WithDeadline(ctx, r.deadline)
	defer cancel()

	detected, english, ok := o.normalize(budget, text)
	if !ok {
		r.log.Warn("run budget exhausted during language normalization")
		r.degraded = true
		return o.fallbackOutcome(ctx, r, classifier.General, orEnglish(preferred), detected)
	}
	r.advance(StateLanguageNormalized)

	target := replyLanguage(detected, preferred, o.threshold)

	strategy, phrase := o.classifier.Match(english)
	if strategy == classifier.Emergency {
		return o.emergencyOutcome(ctx, r, msg, phrase, target, detected)
	}
	r.advance(StateClassified)
	o.publish(ctx, r, msg, bus.EventStrategySelected, map[string]string{"strategy": string(strategy), "phrase": phrase}, "")

	var answer string
	switch strategy {
	case classifier.SearchNeeded:
		answer = o.searchPipeline(budget, ctx, r, msg, english)
	default:
		answer = o.generalPipeline(budget, ctx, r, msg, english)
	}
	r.advance(StatePipelined)

	if answer == "" {
		r.degraded = true
	}
	composed := o.formatter.Compose(answer, strategy)
	finalText := o.localize(ctx, r, composed, target)
	r.advance(StateFormatted)

	return Outcome{
		FinalText:    finalText,
		LanguageUsed: target,
		StrategyUsed: strategy,
		Degraded:     r.degraded,
		Detected:     detected,
		Calls:        r.calls,
		RunID:        r.id,
	}
}

// normalize detects the input language and translates to English. Both
// calls race the run budget; ok is false when the budget ran out first.
func (o *Orchestrator) normalize(budget context.Context, text string) (language.Detected, string, bool) {
	detected, ok := race(budget, func(ctx context.Context) language.Detected {
		return o.translator.Detect(ctx, text)
	})
	if !ok {
		return language.Detected{Code: language.English}, text, false
	}

	detected.Code = language.Canonical(detected.Code)
	if detected.Code == "" {
		detected = language.Detected{Code: language.English}
	}
	if detected.Code == language.English || detected.Confidence < o.threshold {
		return detected, text, true
	}

	english, ok := race(budget, func(ctx context.Context) string {
		return o.translator.Translate(ctx, text, detected.Code, language.English)
	})
	if !ok {
		return detected, text, false
	}
	if strings.TrimSpace(english) == "" {
		english = text
	}

	return detected, english, true
}

// searchPipeline runs Search, then Reasoning with the search context, then
// Summarizer, degrading at each failed stage.
func (o *Orchestrator) searchPipeline(budget, ctx context.Context, r *run, msg InboundMessage, english string) string {
	search, ok := o.call(budget, ctx, r, msg, providertypes.KindSearch, english, "")
	if !ok {
		return ""
	}

	searchContext := ""
	if search.OK {
		searchContext = search.Text
	} else {
		r.degraded = true
	}

	reasoning, ok := o.call(budget, ctx, r, msg, providertypes.KindReasoning, english, searchContext)
	if !ok {
		return search.Text
	}
	if !reasoning.OK {
		r.degraded = true
		// Raw search text is the answer; it is not summarized.
		return search.Text
	}

	return o.summarize(budget, ctx, r, msg, reasoning.Text)
}

// generalPipeline runs Reasoning then Summarizer.
func (o *Orchestrator) generalPipeline(budget, ctx context.Context, r *run, msg InboundMessage, english string) string {
	reasoning, ok := o.call(budget, ctx, r, msg, providertypes.KindReasoning, english, "")
	if !ok {
		return ""
	}
	if !reasoning.OK {
		r.degraded = true
		return ""
	}

	return o.summarize(budget, ctx, r, msg, reasoning.Text)
}

// summarize shortens text, returning it unchanged when the summarizer fails.
func (o *Orchestrator) summarize(budget, ctx context.Context, r *run, msg InboundMessage, text string) string {
	summary, ok := o.call(budget, ctx, r, msg, providertypes.KindSummarizer, text, "")
	if !ok || !summary.OK {
		r.degraded = true
		return text
	}

	return summary.Text
}

// call consults the limiter and races one upstream call against the budget.
// ok is false only when the budget ran out; the run is then degraded and
// later stages are skipped by the caller.
func (o *Orchestrator) call(budget, ctx context.Context, r *run, msg InboundMessage, kind providertypes.ClientKind, prompt string, extra string) (providertypes.CallResult, bool) {
	if budget.Err() != nil {
		r.degraded = true
		return providertypes.Failed(kind, providertypes.ErrorTimeout, 0, 0), false
	}

	if o.limiter != nil && !o.limiter.Allow(kind) {
		result := providertypes.Failed(kind, providertypes.ErrorRateLimited, 0, 0)
		o.record(ctx, r, msg, result)
		return result, true
	}

	client := o.clients.byKind(kind)
	if client == nil {
		result := providertypes.Failed(kind, providertypes.ErrorUpstreamUnavailable, 0, 0)
		o.record(ctx, r, msg, result)
		return result, true
	}

	startedAt := time.Now()
	result, ok := race(budget, func(callCtx context.Context) providertypes.CallResult {
		return client.Call(callCtx, prompt, extra)
	})
	if !ok {
		r.degraded = true
		abandoned := providertypes.Failed(kind, providertypes.ErrorTimeout, time.Since(startedAt).Milliseconds(), 0)
		o.record(ctx, r, msg, abandoned)
		r.log.Warn("run budget exhausted, abandoning upstream call", "client", string(kind))
		return abandoned, false
	}

	result.Source = kind
	o.record(ctx, r, msg, result)
	return result, true
}

func (o *Orchestrator) record(ctx context.Context, r *run, msg InboundMessage, result providertypes.CallResult) {
	r.calls = append(r.calls, result)

	payload := map[string]string{
		"client":     string(result.Source),
		"latency_ms": fmt.Sprint(result.LatencyMs),
		"attempts":   fmt.Sprint(result.Attempts),
	}
	if result.OK {
		o.publish(ctx, r, msg, bus.EventUpstreamCompleted, payload, "")
		return
	}
	o.publish(ctx, r, msg, bus.EventUpstreamFailed, payload, string(result.ErrorKind))
}

// localize translates the composed reply. The translation may run past the
// run deadline by at most the localize margin; on expiry the English text
// is returned.
func (o *Orchestrator) localize(ctx context.Context, r *run, text string, target string) string {
	if target == "" || target == language.English {
		return text
	}

	localizeCtx, cancel := context.WithDeadline(ctx, r.deadline.Add(o.localizeMargin))
	defer cancel()

	translated, ok := race(localizeCtx, func(callCtx context.Context) string {
		return o.formatter.Localize(callCtx, text, target)
	})
	if !ok || strings.TrimSpace(translated) == "" {
		r.log.Warn("reply translation abandoned", "target", target)
		return text
	}

	return translated
}

func (o *Orchestrator) emergencyOutcome(ctx context.Context, r *run, msg InboundMessage, phrase string, target string, detected language.Detected) Outcome {
	r.advance(StateClassified)
	o.publish(ctx, r, msg, bus.EventStrategySelected, map[string]string{"strategy": string(classifier.Emergency), "phrase": phrase}, "")
	r.advance(StatePipelined)

	finalText := o.formatter.Emergency(target)
	r.advance(StateFormatted)

	return Outcome{
		FinalText:    finalText,
		LanguageUsed: orEnglish(target),
		StrategyUsed: classifier.Emergency,
		Degraded:     false,
		Detected:     detected,
		Calls:        r.calls,
		RunID:        r.id,
	}
}

func (o *Orchestrator) fallbackOutcome(ctx context.Context, r *run, strategy classifier.Strategy, target string, detected language.Detected) Outcome {
	finalText := o.localize(ctx, r, o.formatter.Fallback(), target)
	r.advance(StateFormatted)

	return Outcome{
		FinalText:    finalText,
		LanguageUsed: orEnglish(target),
		StrategyUsed: strategy,
		Degraded:     true,
		Detected:     detected,
		Calls:        r.calls,
		RunID:        r.id,
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, msg InboundMessage, outcome Outcome) {
	r.advance(StateDone)
	o.publish(ctx, r, msg, bus.EventOutcomeReady, map[string]string{
		"strategy":   string(outcome.StrategyUsed),
		"language":   outcome.LanguageUsed,
		"degraded":   fmt.Sprint(outcome.Degraded),
		"elapsed_ms": fmt.Sprint(outcome.Elapsed.Milliseconds()),
	}, "")

	r.log.Info("pipeline run completed",
		"strategy", string(outcome.StrategyUsed),
		"language", outcome.LanguageUsed,
		"degraded", outcome.Degraded,
		"calls", len(outcome.Calls),
		"elapsed_ms", outcome.Elapsed.Milliseconds(),
	)
}

func (o *Orchestrator) publish(ctx context.Context, r *run, msg InboundMessage, eventType bus.EventType, payload map[string]string, errText string) {
	if o.events == nil {
		return
	}

	o.events.PublishEvent(context.WithoutCancel(ctx), bus.Event{
		Type:     eventType,
		SenderID: msg.UserID,
		RunID:    r.id,
		Payload:  payload,
		Error:    errText,
	})
}

// replyLanguage picks the reply language: a confident detection wins, then
// the user's preference, then English.
func replyLanguage(detected language.Detected, preferred string, threshold float64) string {
	if detected.Code != "" && detected.Confidence >= threshold && detected.Confidence > 0 {
		return detected.Code
	}
	if preferred != "" {
		return preferred
	}

	return language.English
}

func orEnglish(code string) string {
	if code == "" {
		return language.English
	}
	return code
}
