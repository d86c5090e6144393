package scheduler

import (
	"context"
	"errors"
)

var (
	// ErrMessageGone means the edit/delete target no longer exists.
	ErrMessageGone = errors.New("message gone")
	// ErrRecipientGone means the recipient is unreachable for good
	// (blocked the bot, deactivated the account). Permanent, never retried.
	ErrRecipientGone = errors.New("recipient unreachable")
)

// Action is one per-medication confirmation button attached to a reminder.
type Action struct {
	MedicationID string
	Label        string
}

// Transport is the minimal notification surface the scheduler needs.
// telegram.Transport implements it. Implementations classify their API errors
// onto ErrMessageGone / ErrRecipientGone; anything else is treated as
// transient and retried with backoff.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, actions []Action) (int64, error)
	Edit(ctx context.Context, chatID int64, messageID int64, text string, actions []Action) error
	Delete(ctx context.Context, chatID int64, messageID int64) error
}
