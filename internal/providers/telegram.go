package providers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"wellness-service/internal/models"
)

type telegramClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Telegram sends through a single bot to each supporter's chat.
type Telegram struct {
	client  telegramClient
	limiter *rate.Limiter
}

// NewTelegramBot creates the bot client without the startup getMe call.
func NewTelegramBot(token string) (*bot.Bot, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return b, nil
}

func NewTelegram(client telegramClient, limiter *rate.Limiter) *Telegram {
	return &Telegram{client: client, limiter: limiter}
}

func (t *Telegram) Channel() models.Channel { return models.ChannelTelegram }

func (t *Telegram) Send(ctx context.Context, link models.SupporterLink, msg Message) (Result, error) {
	if link.TelegramChatID == 0 {
		return Result{}, ErrNoDestination
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("telegram rate limit wait: %w", err)
		}
	}
	sent, err := t.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    link.TelegramChatID,
		Text:      joinLines("*"+bot.EscapeMarkdown(msg.Title)+"*", bot.EscapeMarkdown(msg.Body)),
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to send Telegram message to chat_id %d: %w", link.TelegramChatID, err)
	}
	chat := strconv.FormatInt(link.TelegramChatID, 10)
	var id string
	if sent != nil {
		id = fmt.Sprintf("tg:%s:%d", chat, sent.ID)
	}
	return Result{ProviderID: id, Destination: chat, Status: models.DeliveryCompleted}, nil
}
