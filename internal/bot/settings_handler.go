package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/raine/telegram-nutrition-bot/internal/storage"
	"github.com/rs/zerolog/log"
)

// SettingsHandler handles the per-user configuration commands.
type SettingsHandler struct {
	tg      BotAPI
	store   storage.Store
	clients ClientProvider
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(tg BotAPI, store storage.Store, clients ClientProvider) *SettingsHandler {
	return &SettingsHandler{tg: tg, store: store, clients: clients}
}

// save persists settings and makes them the session's current settings.
// Runs already in flight keep the configuration they started with.
func (h *SettingsHandler) save(session *UserSession, settings nutrition.Settings) error {
	if h.store == nil {
		return fmt.Errorf("settings store not available")
	}
	err := h.store.SaveSettings(&storage.UserSettings{
		TelegramID:      session.userId,
		MultiSample:     settings.MultiSampleMode,
		ReferenceObject: settings.ReferenceObject,
		APICredential:   settings.APICredential,
	})
	if err != nil {
		return err
	}
	session.setSettings(settings)
	return nil
}

func modeLabel(multi bool) string {
	if multi {
		return MsgModeMulti
	}
	return MsgModeSingle
}

// HandleSettingsCommand handles /settings.
func (h *SettingsHandler) HandleSettingsCommand(session *UserSession) {
	settings := session.Settings()
	key := MsgKeyShared
	if settings.APICredential != "" {
		key = MsgKeyOwn
	}
	session.reply(MsgSettings, modeLabel(settings.MultiSampleMode), settings.ReferenceObject.Label(), key)
}

// HandleModeCommand handles /mode, optionally with "single" or "multi".
func (h *SettingsHandler) HandleModeCommand(session *UserSession, args []string) {
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "single":
			h.setMode(session, false)
			return
		case "multi":
			h.setMode(session, true)
			return
		}
	}
	msg := tgbotapi.NewMessage(session.userId, MsgModePrompt)
	msg.ReplyMarkup = modeKeyboard(session.Settings().MultiSampleMode)
	session.replyWithMessage(msg)
}

func (h *SettingsHandler) setMode(session *UserSession, multi bool) bool {
	settings := session.Settings()
	settings.MultiSampleMode = multi
	if err := h.save(session, settings); err != nil {
		session.replyWithError(err)
		return false
	}
	log.Info().Int64("userId", session.userId).Bool("multiSample", multi).Msg("sample mode changed")
	session.reply(MsgModeUpdated, modeLabel(multi))
	return true
}

// HandleRefCommand handles /ref, optionally with a reference object name.
func (h *SettingsHandler) HandleRefCommand(session *UserSession, args []string) {
	if len(args) > 0 {
		if ref, err := nutrition.ParseReferenceObject(args[0]); err == nil {
			h.setReference(session, ref)
			return
		}
	}
	msg := tgbotapi.NewMessage(session.userId, MsgRefPrompt)
	msg.ReplyMarkup = referenceKeyboard(session.Settings().ReferenceObject)
	session.replyWithMessage(msg)
}

func (h *SettingsHandler) setReference(session *UserSession, ref nutrition.ReferenceObject) bool {
	settings := session.Settings()
	settings.ReferenceObject = ref
	if err := h.save(session, settings); err != nil {
		session.replyWithError(err)
		return false
	}
	log.Info().Int64("userId", session.userId).Str("referenceObject", string(ref)).Msg("reference object changed")
	session.reply(MsgRefUpdated, ref.Label())
	return true
}

// HandleAPIKeyCommand handles /apikey <key> and /apikey clear. The message
// holding the key is deleted from the chat.
func (h *SettingsHandler) HandleAPIKeyCommand(session *UserSession, message *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		session.reply(MsgAPIKeyUsage)
		return
	}

	settings := session.Settings()
	previous := settings.APICredential

	if strings.EqualFold(args[0], "clear") {
		settings.APICredential = ""
		if err := h.save(session, settings); err != nil {
			session.replyWithError(err)
			return
		}
		if previous != "" {
			h.clients.Forget(previous)
		}
		session.reply(MsgAPIKeyCleared)
		return
	}

	if message != nil && message.MessageID != 0 {
		session.deleteMessage(message.MessageID)
	}

	settings.APICredential = args[0]
	if err := h.save(session, settings); err != nil {
		session.replyWithError(err)
		return
	}
	if previous != "" && previous != args[0] {
		h.clients.Forget(previous)
	}
	log.Info().Int64("userId", session.userId).Msg("api key updated")
	session.reply(MsgAPIKeySaved)
}

// HandleCallback handles mode: and ref: keyboard presses.
func (h *SettingsHandler) HandleCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	var ok bool
	switch {
	case strings.HasPrefix(query.Data, cbMode):
		ok = h.setMode(session, strings.TrimPrefix(query.Data, cbMode) == "multi")
	case strings.HasPrefix(query.Data, cbRef):
		ref, err := nutrition.ParseReferenceObject(strings.TrimPrefix(query.Data, cbRef))
		if err != nil {
			log.Warn().Err(err).Str("data", query.Data).Msg("invalid reference callback")
			return
		}
		ok = h.setReference(session, ref)
	}

	// Remove the keyboard once a choice has been saved
	if ok && query.Message != nil {
		edit := tgbotapi.NewEditMessageReplyMarkup(
			query.Message.Chat.ID,
			query.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}},
		)
		if _, err := h.tg.Request(edit); err != nil {
			log.Debug().Err(err).Msg("failed to remove settings keyboard")
		}
	}
}
