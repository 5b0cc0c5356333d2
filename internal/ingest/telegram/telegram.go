// Package telegram implements the Telegram ingress producer: a long-polling
// bot.Bot listener that converts incoming chat messages into IngressEvents
// and doubles as the owner channel's turn.ReplySink.
//
// Grounded on the teacher's internal/channels/telegram adapter (go-telegram/
// bot long-polling handler registration, reconnect-free since the bot
// library's own Start already retries transport errors), narrowed from its
// multi-mode webhook/photo/audio handling down to the text-only owner/anon
// distinction spec.md's producer rules need.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

const channelName = "telegram"

// Config configures the Telegram producer.
type Config struct {
	BotToken    string
	OwnerChatID string
}

// Producer listens for Telegram updates and feeds them onto the Ingress Bus,
// tagging the configured owner chat as OwnerCommand and every other chat as
// UntrustedEvent per spec.md's trust-tagging rules for forwarded/anonymous
// senders.
type Producer struct {
	cfg    Config
	sender bus.Sender
	bot    *tgbot.Bot
	logger *slog.Logger
}

// New creates a Producer. The bot.Bot is constructed lazily in Run so a
// misconfigured token fails at startup, not at package init.
func New(cfg Config, sender bus.Sender, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{cfg: cfg, sender: sender, logger: logger.With("producer", channelName)}
}

// Run starts long polling and blocks until ctx is canceled.
func (p *Producer) Run(ctx context.Context) error {
	b, err := tgbot.New(p.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	p.bot = b

	b.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, p.handleUpdate)

	p.logger.Info("telegram producer starting long polling")
	b.Start(ctx)
	return nil
}

func (p *Producer) handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	trust := types.UntrustedEvent
	if p.cfg.OwnerChatID != "" && chatID == p.cfg.OwnerChatID {
		trust = types.OwnerCommand
	}

	evt := types.IngressEvent{
		ID:      uuid.NewString(),
		Source:  fmt.Sprintf("%s:%s", channelName, chatID),
		Payload: update.Message.Text,
		Trust:   trust,
	}
	if err := p.sender.Send(ctx, evt); err != nil {
		p.logger.Warn("telegram: bus send failed, dropping update", "chat_id", chatID, "error", err)
	}
}

// Deliver implements turn.ReplySink: it sends content back to the chat id
// encoded in source ("telegram:<chat-id>").
func (p *Producer) Deliver(ctx context.Context, source, content string) error {
	_, chatID, _ := strings.Cut(source, ":")
	if p.bot == nil {
		return fmt.Errorf("telegram: producer not started")
	}
	_, err := p.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   content,
	})
	return err
}
