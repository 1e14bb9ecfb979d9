package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carebot/pkg/bus"
	"carebot/pkg/channel"
	"carebot/pkg/classifier"
	"carebot/pkg/config"
	"carebot/pkg/language"
	"carebot/pkg/pipeline"
	"carebot/pkg/session"
	"carebot/pkg/store"

	"github.com/stretchr/testify/require"
)

// recordingProcessor stands in for the orchestrator and records what the
// gateway handed to the pipeline.
type recordingProcessor struct {
	mu       sync.Mutex
	received []pipeline.InboundMessage
}

func (p *recordingProcessor) ProcessMessage(_ context.Context, msg pipeline.InboundMessage) pipeline.Outcome {
	p.mu.Lock()
	p.received = append(p.received, msg)
	p.mu.Unlock()

	lang := msg.PreferredLanguage
	if lang == "" {
		lang = language.English
	}
	return pipeline.Outcome{
		FinalText:    "ok:" + msg.RawText,
		LanguageUsed: lang,
		StrategyUsed: classifier.General,
		Detected:     language.Detected{Code: lang, Confidence: 0.9},
		RunID:        "run-" + msg.RawText,
	}
}

func (p *recordingProcessor) snapshot() []pipeline.InboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	received := make([]pipeline.InboundMessage, len(p.received))
	copy(received, p.received)
	return received
}

type echoSubmitter struct{}

func (echoSubmitter) Submit(_ context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	return bus.OutboundMessage{Content: "echo:" + inbound.Content}, nil
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(context.Context, bus.InboundMessage) (bus.OutboundMessage, error) {
	return bus.OutboundMessage{}, errors.New("session closed")
}

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage

	continueOnHandlerError bool

	mu         sync.Mutex
	outbound   []bus.OutboundMessage
	broadcasts []string
	done       chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		outbound, err := handler(ctx, inbound)
		if err != nil && !a.continueOnHandlerError {
			return err
		}

		a.mu.Lock()
		a.outbound = append(a.outbound, outbound)
		a.mu.Unlock()
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) Broadcast(_ context.Context, chatIDs []string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range chatIDs {
		a.broadcasts = append(a.broadcasts, id+":"+text)
	}
	return nil
}

func (a *scriptedAdapter) outbounds() []bus.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	outbound := make([]bus.OutboundMessage, len(a.outbound))
	copy(outbound, a.outbound)
	return outbound
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freeTCPPort(t)
	cfg.Gateway.SenderRatePerMinute = 600
	cfg.Gateway.SenderBurst = 10
	return cfg
}

func startPipelineSession(t *testing.T, processor session.Processor) *session.Session {
	t.Helper()

	mb := bus.NewMessageBus()
	s, err := session.Start(context.Background(), mb, processor, session.Options{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		mb.Close()
	})
	return s
}

func runService(t *testing.T, svc *Service, adapter *scriptedAdapter) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceRunE2EPersistsAndRemembersLanguage(t *testing.T) {
	cfg := testConfig(t)
	processor := &recordingProcessor{}

	conversations, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "carebot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conversations.Close() })

	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", SenderID: "7", ChatID: "100", Content: "hola", PreferredLanguage: "es-MX"},
			{Channel: "telegram", SenderID: "7", ChatID: "100", Content: "otra vez"},
			{Channel: "telegram", SenderID: "8", ChatID: "200", Content: "hello"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(cfg, Dependencies{
		Session: startPipelineSession(t, processor),
		Store:   conversations,
	}, []channel.Adapter{adapter}, nil)
	require.NoError(t, err)

	runService(t, svc, adapter)

	received := processor.snapshot()
	require.Len(t, received, 3)
	require.Equal(t, "es", received[0].PreferredLanguage)
	require.Equal(t, "es", received[1].PreferredLanguage, "remembered language should be reused")
	require.Equal(t, "", received[2].PreferredLanguage)
	require.Equal(t, "7", received[0].UserID)

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 3)
	require.Equal(t, "ok:hola", outbounds[0].Content)
	require.Equal(t, "100", outbounds[0].ChatID)
	require.Equal(t, "telegram", outbounds[0].Channel)
	require.Equal(t, string(classifier.General), outbounds[0].Metadata[session.StrategyKey])
	require.Equal(t, "200", outbounds[2].ChatID)

	history, err := conversations.RecentConversations(context.Background(), "7", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "otra vez", history[0].Message)
	require.Equal(t, "ok:otra vez", history[0].Response)
	require.Equal(t, "es", history[0].Language)
	require.Equal(t, "general", history[0].Strategy)
	require.Equal(t, "run-otra vez", history[0].RunID)
}

func TestGatewayServiceThrottlesChattySender(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.SenderRatePerMinute = 1
	cfg.Gateway.SenderBurst = 2

	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", SenderID: "7", ChatID: "100", Content: "one"},
			{Channel: "telegram", SenderID: "7", ChatID: "100", Content: "two"},
			{Channel: "telegram", SenderID: "7", ChatID: "100", Content: "three"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(cfg, Dependencies{Session: echoSubmitter{}}, []channel.Adapter{adapter}, nil)
	require.NoError(t, err)

	runService(t, svc, adapter)

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 3)
	require.Equal(t, "echo:one", outbounds[0].Content)
	require.Equal(t, "echo:two", outbounds[1].Content)
	require.Equal(t, slowDownReply, outbounds[2].Content)
	require.Equal(t, "true", outbounds[2].Metadata["throttled"])
}

func TestGatewayServiceRunE2ESubmitErrorPropagation(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", SenderID: "7", ChatID: "100", Content: "hello"},
		},
		continueOnHandlerError: true,
		done:                   make(chan struct{}),
	}

	svc, err := NewService(testConfig(t), Dependencies{Session: failingSubmitter{}}, []channel.Adapter{adapter}, nil)
	require.NoError(t, err)

	runService(t, svc, adapter)

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 1)
	require.Equal(t, "", outbounds[0].Content)
	require.Contains(t, outbounds[0].Error, "session closed")
	require.Equal(t, "100", outbounds[0].ChatID)
}

func TestGatewayServiceStartupBroadcast(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Telegram.BroadcastChatIDs = []string{"42", "43"}

	adapter := &scriptedAdapter{name: "telegram", done: make(chan struct{})}
	svc, err := NewService(cfg, Dependencies{Session: echoSubmitter{}}, []channel.Adapter{adapter}, nil)
	require.NoError(t, err)

	runService(t, svc, adapter)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.Equal(t, []string{
		"42:" + config.DefaultBroadcastMessage,
		"43:" + config.DefaultBroadcastMessage,
	}, adapter.broadcasts)
}

func TestGatewayServiceReadyzTransitionsOnReasoningHealthRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	var healthy atomic.Bool
	probeCalls := atomic.Int32{}

	adapter := &scriptedAdapter{name: "telegram", done: make(chan struct{})}
	svc, err := NewService(cfg, Dependencies{
		Session: echoSubmitter{},
		Probes: []Probe{{
			Name: "reasoning",
			Check: func(context.Context) error {
				probeCalls.Add(1)
				if healthy.Load() {
					return nil
				}
				return fmt.Errorf("temporary upstream outage")
			},
		}},
	}, []channel.Adapter{adapter}, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", cfg.Gateway.Port)
	waitForHTTPStatus(t, readyURL, http.StatusServiceUnavailable, 2*time.Second)
	require.GreaterOrEqual(t, probeCalls.Load(), int32(1))

	healthy.Store(true)
	require.NoError(t, svc.checkHealth(context.Background()))
	waitForHTTPStatus(t, readyURL, http.StatusOK, 2*time.Second)

	healthy.Store(false)
	require.Error(t, svc.checkHealth(context.Background()))
	waitForHTTPStatus(t, readyURL, http.StatusServiceUnavailable, 2*time.Second)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func waitForHTTPStatus(t *testing.T, url string, want int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	lastStatus := 0
	var lastErr error
	for {
		response, err := http.Get(url)
		if err == nil {
			lastStatus = response.StatusCode
			require.NoError(t, response.Body.Close())
			if lastStatus == want {
				return
			}
		}
		lastErr = err

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to return %d: last status %d, last error %v", url, want, lastStatus, lastErr)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
