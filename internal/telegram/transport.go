package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vvzvlad/medical-bot/internal/scheduler"
)

// Transport adapts the Telegram Bot API to the scheduler's notification
// surface. Confirmation actions become inline keyboard buttons with
// "taken:<medicationID>" callback data; the router turns those callbacks into
// Manager.Confirm calls.
type Transport struct {
	bot *tgbotapi.BotAPI
}

// NewTransport wraps a bot client.
func NewTransport(bot *tgbotapi.BotAPI) *Transport {
	return &Transport{bot: bot}
}

// Send posts a new reminder message and returns its message id.
func (t *Transport) Send(_ context.Context, chatID int64, text string, actions []scheduler.Action) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(actions) > 0 {
		msg.ReplyMarkup = keyboardFor(actions)
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, classify(err)
	}
	return int64(sent.MessageID), nil
}

// Edit rewrites an existing reminder in place. An empty action set clears the
// keyboard (terminal confirmed state).
func (t *Transport) Edit(_ context.Context, chatID int64, messageID int64, text string, actions []scheduler.Action) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, int(messageID), text, keyboardFor(actions))
	if _, err := t.bot.Send(edit); err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes a reminder message.
func (t *Transport) Delete(_ context.Context, chatID int64, messageID int64) error {
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID))); err != nil {
		return classify(err)
	}
	return nil
}

func keyboardFor(actions []scheduler.Action) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Taken: "+a.Label, "taken:"+a.MedicationID),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// classify maps Telegram API errors onto the scheduler's sentinels so the
// dispatcher can distinguish permanent failures from transient ones.
func classify(err error) error {
	if err == nil {
		return nil
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "blocked by the user"),
		strings.Contains(s, "user is deactivated"),
		strings.Contains(s, "chat not found"):
		return fmt.Errorf("%w: %v", scheduler.ErrRecipientGone, err)
	case strings.Contains(s, "message to edit not found"),
		strings.Contains(s, "message to delete not found"),
		strings.Contains(s, "message can't be edited"),
		strings.Contains(s, "message can't be deleted"):
		return fmt.Errorf("%w: %v", scheduler.ErrMessageGone, err)
	case strings.Contains(s, "message is not modified"):
		// Same content, nothing to do.
		return nil
	}
	return err
}
