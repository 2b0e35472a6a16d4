package gateway

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramGateway struct {
	Bot    *tgbotapi.BotAPI
	runner *ChatRunner
	logger *zap.Logger
}

func NewTelegramGateway(token string, runner *ChatRunner, logger *zap.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:    bot,
		runner: runner,
		logger: logger,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			user := ""
			if update.Message.From != nil {
				user = update.Message.From.UserName
			}
			tg.logger.Debug("telegram message", zap.String("user", user), zap.String("text", update.Message.Text))

			if update.Message.IsCommand() && update.Message.Command() == "start" {
				_ = tg.Send(strconv.FormatInt(update.Message.Chat.ID, 10), chatHelp)
				continue
			}

			chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
			go tg.runner.Handle(ctx, tg, "telegram", chatID, update.Message.Text)
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) SendImage(chatID string, png []byte, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{Name: "screenshot.png", Bytes: png})
	photo.Caption = caption
	_, err = tg.Bot.Send(photo)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chat ID: %s", chatID)
	}
	return id, nil
}
