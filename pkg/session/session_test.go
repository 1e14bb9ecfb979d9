package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"carebot/pkg/bus"
	"carebot/pkg/classifier"
	"carebot/pkg/language"
	"carebot/pkg/pipeline"
	providertypes "carebot/pkg/provider/types"
)

type fakeProcessor struct {
	mu       sync.Mutex
	received []pipeline.InboundMessage
	delay    time.Duration
}

func (f *fakeProcessor) ProcessMessage(ctx context.Context, msg pipeline.InboundMessage) pipeline.Outcome {
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	return pipeline.Outcome{
		FinalText:    "echo: " + msg.RawText,
		LanguageUsed: "es",
		StrategyUsed: classifier.General,
		Degraded:     true,
		Detected:     language.Detected{Code: "es", Confidence: 0.91},
		RunID:        "run-" + msg.RawText,
		Elapsed:      1200 * time.Millisecond,
		Calls: []providertypes.CallResult{
			{Source: providertypes.KindReasoning, Text: "long", OK: true, LatencyMs: 900, Attempts: 1, Usage: &providertypes.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}},
			providertypes.Failed(providertypes.KindSummarizer, providertypes.ErrorTimeout, 4000, 2),
		},
	}
}

func startSession(t *testing.T, processor Processor, workers int) *Session {
	t.Helper()

	mb := bus.NewMessageBus()
	s, err := Start(context.Background(), mb, processor, Options{Workers: workers})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		mb.Close()
	})
	return s
}

func TestAskRoundTripsOutcome(t *testing.T) {
	processor := &fakeProcessor{}
	s := startSession(t, processor, 1)

	outcome, err := s.Ask(context.Background(), "hola", "es")
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}

	if outcome.FinalText != "echo: hola" {
		t.Fatalf("final text = %q", outcome.FinalText)
	}
	if outcome.StrategyUsed != classifier.General || outcome.LanguageUsed != "es" || !outcome.Degraded {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.RunID != "run-hola" || outcome.Elapsed != 1200*time.Millisecond {
		t.Fatalf("run id/elapsed = %q/%v", outcome.RunID, outcome.Elapsed)
	}
	if outcome.Detected.Code != "es" || outcome.Detected.Confidence != 0.91 {
		t.Fatalf("detected = %+v", outcome.Detected)
	}
	if len(outcome.Calls) != 2 || outcome.Calls[1].ErrorKind != providertypes.ErrorTimeout {
		t.Fatalf("calls = %+v", outcome.Calls)
	}
	if outcome.Calls[0].Text != "" {
		t.Fatalf("call text should not cross the bus, got %q", outcome.Calls[0].Text)
	}

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if got := processor.received[0]; got.UserID != cliSenderID || got.PreferredLanguage != "es" {
		t.Fatalf("processor received %+v", got)
	}
}

func TestConcurrentSubmitsRouteRepliesToCallers(t *testing.T) {
	s := startSession(t, &fakeProcessor{delay: 5 * time.Millisecond}, 3)

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := range 12 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "msg-" + strings.Repeat("x", i)
			outbound, err := s.Submit(context.Background(), bus.InboundMessage{Channel: "telegram", SenderID: "u", ChatID: "c", Content: text})
			if err != nil {
				errs <- err
				return
			}
			if outbound.Content != "echo: "+text {
				errs <- errors.New("reply routed to wrong caller: " + outbound.Content)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	s, err := Start(context.Background(), mb, &fakeProcessor{}, Options{})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Close()
	s.Close()

	if _, err := s.Submit(context.Background(), bus.InboundMessage{Content: "hi"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit error = %v, want ErrClosed", err)
	}
}

func TestSubmitHonorsContext(t *testing.T) {
	s := startSession(t, &fakeProcessor{delay: 200 * time.Millisecond}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Submit(ctx, bus.InboundMessage{Content: "slow"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit error = %v, want deadline exceeded", err)
	}
}

func TestStartValidatesArguments(t *testing.T) {
	if _, err := Start(context.Background(), nil, &fakeProcessor{}, Options{}); err == nil {
		t.Fatal("expected error for nil bus")
	}
	if _, err := Start(context.Background(), bus.NewMessageBus(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil processor")
	}
}

func TestOutcomeMetadataWithoutCalls(t *testing.T) {
	md := OutcomeMetadata(pipeline.Outcome{FinalText: "x", StrategyUsed: classifier.Emergency, LanguageUsed: "en"})
	if _, ok := md[CallsJSONKey]; ok {
		t.Fatal("expected no calls metadata")
	}
	if _, ok := md[UsageTotalTokensKey]; ok {
		t.Fatal("expected no usage metadata")
	}

	outcome := OutcomeFromOutbound(bus.OutboundMessage{Content: "x", Metadata: md})
	if outcome.StrategyUsed != classifier.Emergency || outcome.Degraded {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestTotalUsage(t *testing.T) {
	if TotalUsage(nil) != nil {
		t.Fatal("expected nil usage for no calls")
	}

	usage := TotalUsage([]providertypes.CallResult{
		{Usage: &providertypes.TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}},
		{},
		{Usage: &providertypes.TokenUsage{InputTokens: 4, OutputTokens: 5, TotalTokens: 9}},
	})
	if usage == nil || usage.InputTokens != 5 || usage.OutputTokens != 7 || usage.TotalTokens != 12 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestLogEventLevels(t *testing.T) {
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logEvent(log, bus.Event{Type: bus.EventMessageReceived, RunID: "r1"})
	if out.Len() != 0 {
		t.Fatalf("expected debug-level event to be filtered, got %q", out.String())
	}

	logEvent(log, bus.Event{Type: bus.EventUpstreamFailed, RunID: "r1", Error: "timeout"})
	if !strings.Contains(out.String(), "level=WARN") || !strings.Contains(out.String(), "error=timeout") {
		t.Fatalf("unexpected log output %q", out.String())
	}
}
