package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/internal/storage"
	"github.com/rs/zerolog/log"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Config holds the bot-wide options.
type Config struct {
	AdminID int64
	// DefaultMultiSample is the sample mode of users without stored settings.
	DefaultMultiSample bool
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg                 BotAPI
	state              BotState
	store              storage.Store
	adminID            int64
	defaultMultiSample bool

	// Handlers
	analysisHandler *AnalysisHandler
	settingsHandler *SettingsHandler
	historyHandler  *HistoryHandler
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, store storage.Store, clients ClientProvider, cfg Config) *Bot {
	bot := &Bot{
		tg:                 tg,
		store:              store,
		adminID:            cfg.AdminID,
		defaultMultiSample: cfg.DefaultMultiSample,
	}

	bot.state = bot.NewBotState()
	bot.analysisHandler = NewAnalysisHandler(tg, clients)
	bot.settingsHandler = NewSettingsHandler(tg, store, clients)
	bot.historyHandler = &HistoryHandler{}

	return bot
}

// Shutdown stops all session workers.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	// Determine user ID from the update
	if update.CallbackQuery != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil && update.Message.From != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	// Check if user is allowed (admin always allowed)
	// MUST be before getUserSession to prevent memory exhaustion from random user IDs
	if userId != b.adminID {
		allowed, err := b.store.IsUserAllowed(userId)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userId).Msg("whitelist check failed")
			return // Fail closed
		}
		if !allowed {
			return // Silent drop
		}
	}

	session, err := b.state.getUserSession(userId)
	if err != nil {
		log.Error().Err(err).Send()
		return
	}

	// Helper to send sync or async based on flag
	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          "callback",
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	message := update.Message
	if len(message.Photo) > 0 || message.Document != nil {
		log.Info().Int64("userId", userId).Int("photoSizes", len(message.Photo)).Bool("document", message.Document != nil).Msg("got image")
		send(SessionMessage{
			Type:    "photo",
			Ctx:     ctx,
			Message: message,
		})
		return
	}

	// Command text may hold an API key, so only the command is logged
	command, _ := parseCommand(message.Text)
	log.Info().Int64("userId", userId).Str("command", command).Msg("got message")
	send(SessionMessage{
		Type:    "text",
		Ctx:     ctx,
		Message: message,
	})
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case "callback":
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case "photo":
		b.analysisHandler.HandlePhoto(ctx, session, msg.Message)
	case "text":
		b.handleCommand(ctx, session, msg.Message)
	case "analysis_complete":
		b.analysisHandler.HandleAnalysisComplete(ctx, session, msg.Analysis)
	}
}

// handleCommand processes bot commands.
// Called from session worker - no locking needed.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	switch command {
	case "/start":
		session.reply(MsgStartPrompt)
	case "/help":
		session.reply(MsgHelp)
	case "/history":
		b.historyHandler.HandleHistoryCommand(session)
	case "/clear":
		b.historyHandler.HandleClearCommand(session)
	case "/mode":
		b.settingsHandler.HandleModeCommand(session, args)
	case "/ref":
		b.settingsHandler.HandleRefCommand(session, args)
	case "/apikey":
		b.settingsHandler.HandleAPIKeyCommand(session, message, args)
	case "/settings":
		b.settingsHandler.HandleSettingsCommand(session)
	case "/cancel":
		b.analysisHandler.HandleCancel(session)
	case "/admin":
		b.handleAdminCommand(session, args)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		session.reply(MsgStartPrompt)
	}
}

// handleCallbackQuery handles inline keyboard button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.tg.Request(callback); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback query")
	}

	switch {
	case strings.HasPrefix(query.Data, cbPortion):
		b.analysisHandler.HandlePortionCallback(ctx, session, query)
	case strings.HasPrefix(query.Data, cbHistory):
		b.historyHandler.HandleCallback(ctx, session, query)
	case strings.HasPrefix(query.Data, cbMode), strings.HasPrefix(query.Data, cbRef):
		b.settingsHandler.HandleCallback(ctx, session, query)
	default:
		log.Warn().Str("data", query.Data).Msg("unknown callback")
	}
}

// handleAdminCommand handles /admin command with subcommands.
// Only the admin user can use this command (defense in depth check).
func (b *Bot) handleAdminCommand(session *UserSession, args []string) {
	if session.userId != b.adminID {
		return // Silent drop for non-admin users
	}

	if len(args) < 2 || args[0] != "users" {
		session.reply(MsgAdminUsage)
		return
	}
	b.handleAdminUsersCommand(session, args[1], args[2:])
}

// handleAdminUsersCommand handles /admin users subcommands.
func (b *Bot) handleAdminUsersCommand(session *UserSession, action string, args []string) {
	switch action {
	case "add":
		if len(args) < 1 {
			session.reply(MsgAdminUserAddUsage)
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.AddAllowedUser(userID, session.userId); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgAdminUserAdded, userID)

	case "remove":
		if len(args) < 1 {
			session.reply(MsgAdminUserRemoveUsage)
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.RemoveAllowedUser(userID); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgAdminUserRemoved, userID)

	case "list":
		users, err := b.store.GetAllowedUsers()
		if err != nil {
			session.replyWithError(err)
			return
		}
		if len(users) == 0 {
			session.reply(MsgAdminNoUsers)
			return
		}
		var sb strings.Builder
		sb.WriteString(MsgAdminAllowedUsers)
		for _, u := range users {
			sb.WriteString(fmt.Sprintf("• `%d`（%s 新增）\n", u.TelegramID, u.AddedAt.Format("2006-01-02")))
		}
		session.reply(sb.String())

	default:
		session.reply(MsgAdminUsage)
	}
}
