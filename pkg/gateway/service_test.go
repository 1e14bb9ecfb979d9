package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carebot/pkg/channel"
	"carebot/pkg/config"
	providertypes "carebot/pkg/provider/types"
)

type fixedQuotas map[providertypes.ClientKind]int

func (q fixedQuotas) Remaining(kind providertypes.ClientKind) int {
	return q[kind]
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{
		channelStates: map[string]channelState{"telegram": {Running: true}},
		probeStates:   map[string]probeState{"reasoning": {}},
	}
	if svc.isReady() {
		t.Fatal("expected not ready before reasoning probe succeeds")
	}

	svc.probeStates["reasoning"] = probeState{Reachable: true}
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and reachable reasoning upstream")
	}

	svc.channelStates["telegram"] = channelState{Running: false}
	if svc.isReady() {
		t.Fatal("expected not ready without a running channel")
	}
}

func TestCheckHealthRecordsProbeResults(t *testing.T) {
	t.Parallel()

	outage := errors.New("connection refused")
	svc := &Service{
		probes: []Probe{
			{Name: "reasoning", Check: func(context.Context) error { return nil }},
			{Name: "language", Check: func(context.Context) error { return outage }},
		},
		probeStates: map[string]probeState{},
		log:         discardLogger(),
	}

	err := svc.checkHealth(context.Background())
	if !errors.Is(err, outage) {
		t.Fatalf("checkHealth error = %v, want wrapped outage", err)
	}

	if state := svc.probeStates["reasoning"]; !state.Reachable || state.LastOKAt.IsZero() {
		t.Fatalf("reasoning state = %+v", state)
	}
	if state := svc.probeStates["language"]; state.Reachable || state.LastError != "connection refused" {
		t.Fatalf("language state = %+v", state)
	}
}

func TestHealthEndpointReportsDependencies(t *testing.T) {
	t.Parallel()

	svc := &Service{
		log:           discardLogger(),
		channelStates: map[string]channelState{},
		probeStates: map[string]probeState{
			"reasoning": {Reachable: true, LastOKAt: time.Now()},
			"search":    {Reachable: false, LastError: "503"},
			"language":  {Reachable: true},
		},
		quotas: fixedQuotas{providertypes.KindReasoning: 14, providertypes.KindSearch: 50},
	}

	recorder := httptest.NewRecorder()
	svc.routes().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var body healthResponse
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("overall status = %q, want degraded", body.Status)
	}
	reasoning := body.Dependencies["reasoning"]
	if !reasoning.Reachable || reasoning.RateLimitRemaining == nil || *reasoning.RateLimitRemaining != 14 {
		t.Fatalf("reasoning = %+v", reasoning)
	}
	if search := body.Dependencies["search"]; search.Reachable || search.LastError != "503" {
		t.Fatalf("search = %+v", search)
	}
	if lang := body.Dependencies["language"]; lang.RateLimitRemaining != nil {
		t.Fatalf("language should carry no quota, got %+v", lang)
	}
}

func TestLivenessAndReadinessRoutes(t *testing.T) {
	t.Parallel()

	svc := &Service{
		log:           discardLogger(),
		channelStates: map[string]channelState{"telegram": {Running: true}},
		probeStates:   map[string]probeState{"reasoning": {Reachable: false}},
	}
	handler := svc.routes()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status = %d, want 503", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz status = %d, want 405", recorder.Code)
	}
}

func TestNewServiceValidatesArguments(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if _, err := NewService(nil, Dependencies{}, nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewService(cfg, Dependencies{}, []channel.Adapter{&scriptedAdapter{name: "telegram"}}, nil); err == nil {
		t.Fatal("expected error for missing session")
	}
	if _, err := NewService(cfg, Dependencies{Session: &echoSubmitter{}}, nil, nil); err == nil {
		t.Fatal("expected error for no adapters")
	}
}

func TestSenderManagerThrottles(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	manager := newSenderManager(6, 2)
	manager.now = func() time.Time { return now }

	for i := range 2 {
		if _, ok := manager.admit("alice"); !ok {
			t.Fatalf("message %d should be admitted within burst", i+1)
		}
	}
	if _, ok := manager.admit("alice"); ok {
		t.Fatal("expected third message to be throttled")
	}
	if _, ok := manager.admit("bob"); !ok {
		t.Fatal("other senders must not share alice's budget")
	}

	now = now.Add(10 * time.Second)
	if _, ok := manager.admit("alice"); !ok {
		t.Fatal("expected one token to refill after 10s at 6/min")
	}
}

func TestSenderManagerPrunesIdleSenders(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	manager := newSenderManager(0, 0)
	manager.now = func() time.Time { return now }

	manager.admit("alice")
	now = now.Add(senderIdleTTL + time.Minute)
	manager.admit("bob")

	if got := manager.tracked(); got != 1 {
		t.Fatalf("tracked senders = %d, want 1", got)
	}

	for range 100 {
		if _, ok := manager.admit("bob"); !ok {
			t.Fatal("zero rate should disable throttling")
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
