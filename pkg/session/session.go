// Package session runs pipeline workers behind the in-process message bus so
// the CLI, the console and the gateway share one transport path.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"carebot/pkg/bus"
	"carebot/pkg/pipeline"
)

const (
	cliChannelName = "cli"
	cliChatID      = "local"
	cliSenderID    = "local"

	defaultWorkers = 4
)

var ErrClosed = errors.New("session closed")

// Processor runs one message through the pipeline. *pipeline.Orchestrator
// implements it.
type Processor interface {
	ProcessMessage(ctx context.Context, msg pipeline.InboundMessage) pipeline.Outcome
}

// Options tunes a Session.
type Options struct {
	Workers       int
	ObserveEvents bool
	Log           *slog.Logger
}

// Session owns a pool of pipeline workers draining the bus inbound queue and
// one dispatcher routing outbound replies back to their callers by request
// ID.
type Session struct {
	processor  Processor
	messageBus *bus.MessageBus
	log        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]chan bus.OutboundMessage
	closed  bool

	requestCounter atomic.Uint64
}

// Start launches the workers. The session does not own messageBus; callers
// close it after Close.
func Start(ctx context.Context, messageBus *bus.MessageBus, processor Processor, opts Options) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if messageBus == nil {
		return nil, errors.New("message bus is required")
	}
	if processor == nil {
		return nil, errors.New("pipeline processor is required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		processor:  processor,
		messageBus: messageBus,
		log:        log.With("component", "session"),
		cancel:     cancel,
		pending:    make(map[string]chan bus.OutboundMessage),
	}

	for range workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			runPipelineWorker(workerCtx, processor, messageBus)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchOutbound(workerCtx)
	}()

	if opts.ObserveEvents {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ObserveEvents(workerCtx, messageBus)
		}()
	}

	return s, nil
}

// Submit queues inbound for a worker and waits for its reply.
func (s *Session) Submit(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	if s == nil {
		return bus.OutboundMessage{}, errors.New("session is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	requestID := strconv.FormatUint(s.requestCounter.Add(1), 10)
	inbound.RequestID = requestID

	reply := make(chan bus.OutboundMessage, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return bus.OutboundMessage{}, ErrClosed
	}
	s.pending[requestID] = reply
	s.mu.Unlock()
	defer s.forget(requestID)

	if ok := s.messageBus.PublishInbound(ctx, inbound); !ok {
		if err := ctx.Err(); err != nil {
			return bus.OutboundMessage{}, err
		}
		return bus.OutboundMessage{}, errors.New("unable to enqueue message")
	}

	select {
	case outbound, ok := <-reply:
		if !ok {
			return bus.OutboundMessage{}, ErrClosed
		}
		if outbound.Error != "" {
			return outbound, errors.New(outbound.Error)
		}
		return outbound, nil
	case <-ctx.Done():
		return bus.OutboundMessage{}, ctx.Err()
	}
}

// Ask runs text through the pipeline as the local CLI user.
func (s *Session) Ask(ctx context.Context, text string, preferredLanguage string) (pipeline.Outcome, error) {
	outbound, err := s.Submit(ctx, bus.InboundMessage{
		Channel:           cliChannelName,
		SenderID:          cliSenderID,
		ChatID:            cliChatID,
		Content:           text,
		PreferredLanguage: preferredLanguage,
	})
	if err != nil {
		return pipeline.Outcome{}, err
	}

	return OutcomeFromOutbound(outbound), nil
}

// Close stops the workers and fails every pending Submit.
func (s *Session) Close() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Session) forget(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

func (s *Session) dispatchOutbound(ctx context.Context) {
	for {
		outbound, ok := s.messageBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		s.mu.Lock()
		reply, found := s.pending[outbound.RequestID]
		if found {
			delete(s.pending, outbound.RequestID)
		}
		s.mu.Unlock()

		if !found {
			s.log.Debug("Dropping reply without waiting caller", "request_id", outbound.RequestID)
			continue
		}
		reply <- outbound
	}
}

func runPipelineWorker(ctx context.Context, processor Processor, messageBus *bus.MessageBus) {
	for {
		inbound, ok := messageBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		outcome := processor.ProcessMessage(ctx, pipeline.InboundMessage{
			UserID:            inbound.SenderID,
			RawText:           inbound.Content,
			PreferredLanguage: inbound.PreferredLanguage,
		})

		outbound := bus.OutboundMessage{
			Channel:   inbound.Channel,
			ChatID:    inbound.ChatID,
			RequestID: inbound.RequestID,
			Content:   outcome.FinalText,
			Metadata:  OutcomeMetadata(outcome),
		}

		if ok := messageBus.PublishOutbound(ctx, outbound); !ok {
			return
		}
	}
}
