package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"carebot/pkg/bus"
	"carebot/pkg/channel"
	"carebot/pkg/classifier"
	"carebot/pkg/config"
	"carebot/pkg/language"
	providertypes "carebot/pkg/provider/types"
	"carebot/pkg/session"
	"carebot/pkg/store"
)

const slowDownReply = "You're sending messages faster than I can answer. Please wait a moment and try again."

// Submitter runs one inbound message through the pipeline workers.
// *session.Session implements it.
type Submitter interface {
	Submit(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error)
}

// ConversationStore persists exchanges and language preferences.
// *store.Store implements it.
type ConversationStore interface {
	SaveConversation(ctx context.Context, c store.Conversation) (int64, error)
	PreferredLanguage(ctx context.Context, userID string) (string, error)
	RememberLanguage(ctx context.Context, userID string, code string) error
}

// QuotaReporter exposes remaining rate-limit capacity per upstream.
// *ratelimit.Limiter implements it.
type QuotaReporter interface {
	Remaining(kind providertypes.ClientKind) int
}

// Probe is one dependency reachability check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the collaborators of a Service. Session is required.
type Dependencies struct {
	Session Submitter
	Store   ConversationStore
	Probes  []Probe
	Quotas  QuotaReporter
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	session  Submitter
	store    ConversationStore
	probes   []Probe
	quotas   QuotaReporter
	senders  *senderManager
	channels []channel.Adapter

	mu            sync.RWMutex
	startedAt     time.Time
	probeStates   map[string]probeState
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type probeState struct {
	Reachable   bool      `json:"reachable"`
	LastOKAt    time.Time `json:"-"`
	LastError   string    `json:"last_error,omitempty"`
	LastChecked time.Time `json:"-"`
}

func NewService(cfg *config.Config, deps Dependencies, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Session == nil {
		return nil, errors.New("pipeline session is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	probeStates := make(map[string]probeState, len(deps.Probes))
	for _, probe := range deps.Probes {
		probeStates[probe.Name] = probeState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		session:       deps.Session,
		store:         deps.Store,
		probes:        deps.Probes,
		quotas:        deps.Quotas,
		senders:       newSenderManager(cfg.Gateway.SenderRatePerMinute, cfg.Gateway.SenderBurst),
		channels:      adapters,
		probeStates:   probeStates,
		channelStates: channelStates,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	// Upstream outages degrade answers rather than block startup.
	if err := s.checkHealth(ctx); err != nil {
		s.log.Warn("Initial health probe failed", "error", err)
	}

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	interval := time.Duration(s.cfg.Gateway.ProbeIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Duration(config.DefaultProbeIntervalSecs) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkHealth(ctx)
			}
		}
	}()

	s.broadcastStartup(ctx)

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.senders.Close()
		return nil
	case err := <-serverErrors:
		s.senders.Close()
		return err
	case err := <-errCh:
		s.senders.Close()
		return err
	}
}

// handleInbound throttles and orders messages per sender, resolves the
// preferred language, runs the pipeline and persists the exchange.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	state, ok := s.senders.admit(inbound.SenderID)
	if !ok {
		s.log.Info("Sender throttled", "channel", inbound.Channel, "sender_id", inbound.SenderID)
		return bus.OutboundMessage{
			Channel:  inbound.Channel,
			ChatID:   inbound.ChatID,
			Content:  slowDownReply,
			Metadata: map[string]string{"throttled": "true"},
		}, nil
	}

	state.runMu.Lock()
	defer state.runMu.Unlock()

	channelLanguage := language.Canonical(inbound.PreferredLanguage)
	inbound.PreferredLanguage = s.resolveLanguage(ctx, inbound.SenderID, channelLanguage)

	outbound, err := s.session.Submit(ctx, inbound)
	if err != nil {
		return bus.OutboundMessage{
			Channel: inbound.Channel,
			ChatID:  inbound.ChatID,
			Error:   err.Error(),
		}, err
	}

	outbound.Channel = inbound.Channel
	outbound.ChatID = inbound.ChatID
	s.persist(ctx, inbound, outbound, channelLanguage)

	return outbound, nil
}

// resolveLanguage prefers the channel-reported language, then the one
// remembered for the sender.
func (s *Service) resolveLanguage(ctx context.Context, senderID string, channelLanguage string) string {
	if channelLanguage != "" || s.store == nil {
		return channelLanguage
	}

	remembered, err := s.store.PreferredLanguage(ctx, senderID)
	if err != nil {
		s.log.Warn("Failed to load preferred language", "sender_id", senderID, "error", err)
		return ""
	}

	return remembered
}

func (s *Service) persist(ctx context.Context, inbound bus.InboundMessage, outbound bus.OutboundMessage, channelLanguage string) {
	if s.store == nil {
		return
	}

	outcome := session.OutcomeFromOutbound(outbound)
	if _, err := s.store.SaveConversation(ctx, store.Conversation{
		UserID:   inbound.SenderID,
		Channel:  inbound.Channel,
		Message:  inbound.Content,
		Response: outcome.FinalText,
		Language: outcome.LanguageUsed,
		Strategy: string(outcome.StrategyUsed),
		Degraded: outcome.Degraded,
		RunID:    outcome.RunID,
	}); err != nil {
		s.log.Error("Failed to save conversation", "sender_id", inbound.SenderID, "error", err)
	}

	remember := channelLanguage
	if remember == "" && outcome.StrategyUsed != classifier.Emergency && outcome.Detected.Code == outcome.LanguageUsed {
		remember = outcome.Detected.Code
	}
	if err := s.store.RememberLanguage(ctx, inbound.SenderID, remember); err != nil {
		s.log.Warn("Failed to remember language", "sender_id", inbound.SenderID, "error", err)
	}
}

// broadcastStartup announces the bot on every adapter that can broadcast.
func (s *Service) broadcastStartup(ctx context.Context) {
	telegramCfg := s.cfg.Channels.Telegram
	if len(telegramCfg.BroadcastChatIDs) == 0 {
		return
	}

	for _, adapter := range s.channels {
		broadcaster, ok := adapter.(channel.Broadcaster)
		if !ok {
			continue
		}
		if err := broadcaster.Broadcast(ctx, telegramCfg.BroadcastChatIDs, telegramCfg.BroadcastMessage); err != nil {
			s.log.Error("Startup broadcast failed", "channel", adapter.Name(), "error", err)
			continue
		}
		s.log.Info("Startup broadcast sent", "channel", adapter.Name(), "chats", len(telegramCfg.BroadcastChatIDs))
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = config.DefaultGatewayHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = config.DefaultGatewayPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

// checkHealth runs every probe and records the results. It returns the
// joined probe errors.
func (s *Service) checkHealth(ctx context.Context) error {
	var errs []error
	for _, probe := range s.probes {
		err := probe.Check(ctx)
		now := time.Now().UTC()

		s.mu.Lock()
		state := s.probeStates[probe.Name]
		state.LastChecked = now
		if err != nil {
			state.Reachable = false
			state.LastError = err.Error()
			errs = append(errs, fmt.Errorf("%s health check failed: %w", probe.Name, err))
		} else {
			state.Reachable = true
			state.LastError = ""
			state.LastOKAt = now
		}
		s.probeStates[probe.Name] = state
		s.mu.Unlock()

		if err != nil {
			s.log.Debug("Dependency unreachable", "dependency", probe.Name, "error", err)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
