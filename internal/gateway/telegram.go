package gateway

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/rahul/stepwise/internal/planning"
)

// Sender is the part of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts run summaries to one chat.
type TelegramNotifier struct {
	Bot    Sender
	ChatID int64
	logger *zap.Logger
	stop   func()
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramNotifier{
		Bot:    bot,
		ChatID: chatID,
		logger: logger,
		stop:   bot.StopReceivingUpdates,
	}, nil
}

func (tg *TelegramNotifier) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	return tg.send(id, text)
}

func (tg *TelegramNotifier) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := tg.Bot.Send(msg)
	return err
}

func (tg *TelegramNotifier) NotifyRun(ctx context.Context, ec *planning.ExecutionContext, runErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tg.send(tg.ChatID, FormatSummary(ec, runErr)); err != nil {
		if tg.logger != nil {
			tg.logger.Warn("telegram notify failed", zap.String("plan_id", ec.PlanID()), zap.Error(err))
		}
		return fmt.Errorf("telegram notify: %w", err)
	}
	return nil
}

func (tg *TelegramNotifier) Stop() error {
	if tg.stop != nil {
		tg.stop()
	}
	return nil
}
