package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
)

// HistoryHandler lists, reopens and clears recorded results.
type HistoryHandler struct{}

// HandleHistoryCommand handles /history.
func (h *HistoryHandler) HandleHistoryCommand(session *UserSession) {
	if session.history == nil || session.history.Len() == 0 {
		session.reply(MsgHistoryEmpty)
		return
	}

	entries := session.history.List()
	msg := tgbotapi.NewMessage(session.userId, formatReplyText(MsgHistoryHeader, len(entries)))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = historyKeyboard(entries)
	session.replyWithMessage(msg)
}

// HandleClearCommand handles /clear.
func (h *HistoryHandler) HandleClearCommand(session *UserSession) {
	if session.history != nil {
		if err := session.history.Clear(); err != nil {
			session.replyWithError(err)
			return
		}
	}
	session.lastResult = nil
	log.Info().Int64("userId", session.userId).Msg("history cleared")
	session.reply(MsgHistoryCleared)
}

// HandleCallback reopens a history entry at 100%.
func (h *HistoryHandler) HandleCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	id := strings.TrimPrefix(query.Data, cbHistory)
	result, ok := session.findResult(id)
	if !ok {
		session.reply(MsgResultGone)
		return
	}
	sendResult(session, result, nutrition.DefaultPortion)
}
