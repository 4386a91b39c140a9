package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/platform/htmlutils"
)

const telegramChannel = "telegram"

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts messages to one chat in HTML parse mode. Long texts
// are split into several messages; attachments are sent as documents.
type TelegramSender struct {
	api    telegramAPI
	chatID int64
	logger *zerolog.Logger
}

// NewTelegramSender connects to the Bot API.
func NewTelegramSender(token string, chatID int64, logger *zerolog.Logger) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating bot API: %w", err)
	}

	return newTelegramSender(api, chatID, logger), nil
}

func newTelegramSender(api telegramAPI, chatID int64, logger *zerolog.Logger) *TelegramSender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &TelegramSender{api: api, chatID: chatID, logger: logger}
}

// Name implements Sender.
func (s *TelegramSender) Name() string {
	return telegramChannel
}

// Send posts the subject in bold followed by the escaped text. Recipients
// are ignored; the chat is fixed.
func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	var b strings.Builder

	if msg.Subject != "" {
		b.WriteString("<b>" + htmlutils.Escape(msg.Subject) + "</b>\n\n")
	}

	b.WriteString(htmlutils.Escape(msg.Text))

	parts := htmlutils.Split(b.String(), htmlutils.TelegramMessageLimit)

	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}

		out := tgbotapi.NewMessage(s.chatID, part)
		out.ParseMode = tgbotapi.ModeHTML
		out.DisableWebPagePreview = true

		if _, err := s.api.Send(out); err != nil {
			return fmt.Errorf("send part %d/%d to chat %d: %w", i+1, len(parts), s.chatID, err)
		}
	}

	for _, a := range msg.Attachments {
		doc := tgbotapi.NewDocument(s.chatID, tgbotapi.FileBytes{Name: a.Name, Bytes: a.Data})

		if _, err := s.api.Send(doc); err != nil {
			return fmt.Errorf("send attachment %s: %w", a.Name, err)
		}
	}

	s.logger.Debug().Int(logFieldParts, len(parts)).Msg("telegram message sent")

	return nil
}
