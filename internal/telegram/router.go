package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vvzvlad/medical-bot/internal/scheduler"
)

// Router wires Telegram updates to handlers. Command parsing stands in for
// the external intent extractor: every handler turns its arguments into one
// validated structured call on the Manager.
type Router struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
	mgr *scheduler.Manager
}

// NewRouter creates a new Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, mgr *scheduler.Manager) *Router {
	return &Router{bot: bot, log: log, mgr: mgr}
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)
		cmd, args := splitCommand(text)

		switch cmd {
		case "/start", "/help":
			r.handleStart(ctx, chatID)
		case "/list", "/status":
			r.handleList(ctx, chatID)
		case "/add":
			r.handleAdd(ctx, chatID, args)
		case "/del", "/delete":
			r.handleDelete(ctx, chatID, args)
		case "/time":
			r.handleChangeTime(ctx, chatID, args)
		case "/dose":
			r.handleChangeDosage(ctx, chatID, args)
		case "/tz":
			r.handleTimezone(ctx, chatID, args)
		case "/dnd":
			r.handleDND(ctx, chatID, args)
		default:
			// Unknown input — show help rather than guessing.
			r.handleStart(ctx, chatID)
		}
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		chatID := cb.Message.Chat.ID

		if medID, ok := strings.CutPrefix(cb.Data, "taken:"); ok {
			r.handleTaken(ctx, chatID, medID, cb.ID, time.Now().UTC())
		}
	}
}

// splitCommand separates the leading /command (with any @botname suffix
// stripped) from the argument tail.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ = strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(args)
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (r *Router) answerCallback(id, text string) {
	if _, err := r.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		r.log.Debug("callback answer failed", zap.Error(err))
	}
}
