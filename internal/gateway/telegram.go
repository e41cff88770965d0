package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/deepresearch/internal/observability"
)

type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Session *Session
	Logger  *observability.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewTelegramGateway(token string, session *Session, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if logger == nil {
		logger = observability.Nop()
	}
	logger.Info().Str("account", bot.Self.UserName).Msg("telegram authorized")

	return &TelegramGateway{Bot: bot, Session: session, Logger: logger}, nil
}

var _ Messenger = (*TelegramGateway)(nil)

// Start polls for updates and researches each message in its own goroutine.
// In-flight runs are cancelled when ctx is done.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	defer tg.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return tg.Stop()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			from := ""
			if msg.From != nil {
				from = msg.From.UserName
			}
			tg.Logger.Info().Str("from", from).Int64("chat_id", msg.Chat.ID).Msg("telegram message")

			tg.wg.Add(1)
			go func() {
				defer tg.wg.Done()
				chatID := strconv.FormatInt(msg.Chat.ID, 10)
				err := tg.Session.Handle(ctx, chatID, msg.Text, func(text string) error {
					return tg.Send(chatID, text)
				})
				if err != nil && ctx.Err() == nil {
					tg.Logger.Error().Err(err).Str("chat_id", chatID).Msg("telegram research failed")
				}
			}()
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	_, err = tg.Bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.stopOnce.Do(tg.Bot.StopReceivingUpdates)
	return nil
}
