// Package telegram — транспорт поверх Telegram Bot API: отправка сообщений с клавиатурами,
// получение обновлений long polling'ом или через webhook.
package telegram

import (
	"context"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"music-studio-bot/api/internal/metrics"
	"music-studio-bot/api/internal/session"
)

// BotAPI — методы *tgbotapi.BotAPI, которыми пользуется транспорт.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

const maxTextLen = 3900

// Sender реализует session.Sender.
type Sender struct {
	bot BotAPI
}

func NewSender(bot BotAPI) *Sender { return &Sender{bot: bot} }

func (s *Sender) SendText(ctx context.Context, chatID int64, text string, kb *session.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, truncate(text))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup := replyMarkup(kb); markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := s.bot.Send(msg)
	metrics.MessageSent("sendMessage", err)
	return err
}

// SendImage отправляет фото по file_id, а ссылки http(s) — как URL.
func (s *Sender) SendImage(ctx context.Context, chatID int64, imageRef, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var file tgbotapi.RequestFileData = tgbotapi.FileID(imageRef)
	if strings.HasPrefix(imageRef, "http://") || strings.HasPrefix(imageRef, "https://") {
		file = tgbotapi.FileURL(imageRef)
	}
	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = caption
	_, err := s.bot.Send(photo)
	metrics.MessageSent("sendPhoto", err)
	return err
}

// replyMarkup: по кнопке в строке, клавиатура прячется после ответа.
func replyMarkup(kb *session.Keyboard) any {
	switch {
	case kb == nil:
		return nil
	case kb.Remove:
		return tgbotapi.NewRemoveKeyboard(true)
	case len(kb.Options) == 0:
		return nil
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(kb.Options))
	for _, label := range kb.Options {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(label)))
	}
	return tgbotapi.NewOneTimeReplyKeyboard(rows...)
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxTextLen {
		return text
	}
	r := []rune(text)
	return string(r[:maxTextLen]) + "…"
}
