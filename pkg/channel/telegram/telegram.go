package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"carebot/pkg/bus"
	"carebot/pkg/channel"
	"carebot/pkg/config"
	"carebot/pkg/logger"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const typingRefreshInterval = 4 * time.Second

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

const startReply = "Hi! I'm a health information assistant. Ask me a health question in any language.\n\nIf this is an emergency, call your local emergency number right away."

// Adapter bridges Telegram updates into pipeline inbound/outbound messages.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	newBot func(token string) (*telego.Bot, error)
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
		newBot: func(token string) (*telego.Bot, error) {
			return telego.NewBot(token)
		},
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards messages through the shared channel handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := a.newBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := a.inboundFromUpdate(update)
			if !ok {
				continue
			}
			chatID := update.Message.Chat.ID

			if isStartCommand(inbound.Content) {
				a.send(ctx, bot, chatID, startReply)
				continue
			}

			a.log.Info("Received message",
				"chat_id", inbound.ChatID,
				"sender_id", inbound.SenderID,
				"language_code", inbound.PreferredLanguage,
				"content", logger.Preview(inbound.Content),
			)

			stopTyping := a.startTypingIndicator(ctx, bot, chatID)

			outbound, err := handler(ctx, inbound)
			stopTyping()
			if err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
				outbound = bus.OutboundMessage{Error: err.Error()}
			}

			responseText := strings.TrimSpace(outbound.Content)
			if responseText == "" {
				responseText = strings.TrimSpace(outbound.Error)
			}
			if responseText == "" {
				continue
			}
			a.log.Info("Sending message",
				"chat_id", inbound.ChatID,
				"strategy", outbound.Metadata["strategy"],
				"content", logger.Preview(responseText),
			)

			a.send(ctx, bot, chatID, responseText)
		}
	}
}

// Broadcast sends text to every chat in chatIDs. Numeric IDs address chats
// directly; anything else is treated as a public @username.
func (a *Adapter) Broadcast(ctx context.Context, chatIDs []string, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || len(chatIDs) == 0 {
		return nil
	}

	bot, err := a.newBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	var errs []error
	for _, raw := range chatIDs {
		target, ok := chatTarget(raw)
		if !ok {
			continue
		}
		if _, err := bot.SendMessage(ctx, tu.Message(target, text)); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", strings.TrimSpace(raw), err))
			continue
		}
		a.log.Info("Broadcast sent", "chat_id", strings.TrimSpace(raw))
	}

	return errors.Join(errs...)
}

// inboundFromUpdate maps a text update from an allowed sender to a bus
// message. ok is false for updates the pipeline should not see.
func (a *Adapter) inboundFromUpdate(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		return bus.InboundMessage{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	return bus.InboundMessage{
		Channel:           channelName,
		SenderID:          senderID,
		ChatID:            strconv.FormatInt(message.Chat.ID, 10),
		Content:           content,
		PreferredLanguage: strings.TrimSpace(message.From.LanguageCode),
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
		},
	}, true
}

func (a *Adapter) send(ctx context.Context, bot *telego.Bot, chatID int64, text string) {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			a.log.Error("Failed to send telegram message", "error", err)
			return
		}
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

func isStartCommand(content string) bool {
	command, _, _ := strings.Cut(strings.TrimSpace(content), " ")
	command, _, _ = strings.Cut(command, "@")
	return command == "/start" || command == "/help"
}

func chatTarget(raw string) (telego.ChatID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return telego.ChatID{}, false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return tu.ID(id), true
	}
	if !strings.HasPrefix(raw, "@") {
		raw = "@" + raw
	}
	return telego.ChatID{Username: raw}, true
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// paragraph and line breaks.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		window := string(runes[:limit])
		if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
			cut = utf8.RuneCountInString(window[:idx])
		} else if idx := strings.LastIndex(window, "\n"); idx > 0 {
			cut = utf8.RuneCountInString(window[:idx])
		}

		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}

	return chunks
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
