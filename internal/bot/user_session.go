package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/telegram-nutrition-bot/internal/history"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Message data (only one is set based on Type)
	Message       *tgbotapi.Message
	CallbackQuery *tgbotapi.CallbackQuery
	Text          string
	Analysis      *AnalysisOutcome // For analysis_complete messages
}

// AnalysisOutcome is posted back to the session worker when a background
// estimation run finishes.
type AnalysisOutcome struct {
	RunID  int
	Result *nutrition.Result
	Err    error
}

// escapeMarkdown escapes special characters for Telegram Markdown V1
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "*", "\\*")
	text = strings.ReplaceAll(text, "_", "\\_")
	text = strings.ReplaceAll(text, "`", "\\`")
	text = strings.ReplaceAll(text, "[", "\\[")
	return text
}

// MessageSender abstracts the ability to send Telegram messages.
// This interface decouples UserSession from the full Bot struct,
// improving testability.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MessageHandler is the interface for processing session messages.
// This allows the session to dispatch to external handlers without circular dependencies.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// AnalysisState tracks the estimation run in flight, if any. At most one run
// is active per session.
type AnalysisState struct {
	RunID         int
	Cancel        context.CancelFunc
	ProgressMsgID int
}

// UserSession represents a user's session with the bot.
//
// Threading model:
//   - Each session has a dedicated worker goroutine that processes messages sequentially
//   - Message handlers are called only from the worker and can access session state
//     without locks
//   - Estimation runs execute in a background goroutine and report back through
//     the inbox as an analysis_complete message
//   - Public accessors (IsAnalyzing, Settings) use mutex for external callers
type UserSession struct {
	userId int64
	sender MessageSender
	mu     sync.Mutex

	// Worker channel for sequential message processing
	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler // Set after construction to avoid circular deps

	settings nutrition.Settings
	history  *history.Store
	analysis *AnalysisState
	runSeq   int

	// Most recent result, kept so its portion buttons work even if it could
	// not be written to history
	lastResult *nutrition.Result
}

// --- Thread-safe accessors ---

// IsAnalyzing reports whether an estimation run is in flight.
func (s *UserSession) IsAnalyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis != nil
}

// Settings returns a copy of the user's settings.
func (s *UserSession) Settings() nutrition.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *UserSession) setSettings(settings nutrition.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// beginAnalysis registers a new run. Returns false if one is already active.
// Called from session worker.
func (s *UserSession) beginAnalysis(cancel context.CancelFunc) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis != nil {
		return 0, false
	}
	s.runSeq++
	s.analysis = &AnalysisState{RunID: s.runSeq, Cancel: cancel}
	return s.runSeq, true
}

// endAnalysis clears the active run if it is runID and returns its state.
// Called from session worker.
func (s *UserSession) endAnalysis(runID int) *AnalysisState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis == nil || s.analysis.RunID != runID {
		return nil
	}
	state := s.analysis
	s.analysis = nil
	return state
}

// cancelAnalysis abandons the active run. Its outcome, when it arrives, is
// discarded. Called from session worker.
func (s *UserSession) cancelAnalysis() bool {
	s.mu.Lock()
	state := s.analysis
	s.analysis = nil
	s.mu.Unlock()

	if state == nil {
		return false
	}
	state.Cancel()
	if state.ProgressMsgID != 0 {
		s.deleteMessage(state.ProgressMsgID)
	}
	log.Info().Int64("userId", s.userId).Int("runId", state.RunID).Msg("analysis cancelled")
	return true
}

func (s *UserSession) setProgressMessage(runID, messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis != nil && s.analysis.RunID == runID {
		s.analysis.ProgressMsgID = messageID
	}
}

// findResult looks a result up in history, then in the last shown result.
// Called from session worker.
func (s *UserSession) findResult(id string) (nutrition.Result, bool) {
	if s.history != nil {
		if r, ok := s.history.Get(id); ok {
			return r, true
		}
	}
	if s.lastResult != nil && s.lastResult.ID == id {
		return *s.lastResult, true
	}
	return nutrition.Result{}, false
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, escapeMarkdown(err.Error())), false)
}

// sendTypingAction sends a "typing" chat action to show the user that the bot is processing.
// The typing indicator automatically expires after ~5 seconds in Telegram.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatTyping)
	// Use Request instead of Send because sendChatAction returns a boolean, not a Message
	_, err := s.sender.Request(action)
	if err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until the context is cancelled.
// Run this in a goroutine and cancel the context when done.
func (s *UserSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

func (s *UserSession) deleteMessage(messageID int) {
	if _, err := s.sender.Request(tgbotapi.NewDeleteMessage(s.userId, messageID)); err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Int("messageId", messageID).Msg("failed to delete message")
	}
}

func (s *UserSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.userId
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Interface("msg", msg).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Debug().Int64("userId", s.userId).Int("messageId", sent.MessageID).Msg("sent message")
	}

	return sent
}

func (s *UserSession) _reply(text string, removeReplyKeyboard bool) tgbotapi.Message {
	msg := tgbotapi.MessageConfig{
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	}

	if removeReplyKeyboard {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}

	return s.replyWithMessage(msg)
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), false)
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

// runWorker is the main worker loop that processes messages sequentially.
func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker.
// This is non-blocking - it returns immediately after queuing.
func (s *UserSession) Send(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed.
// Returns when the message has been fully processed by the worker.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker and waits for it to finish. An analysis in flight is
// abandoned.
func (s *UserSession) Stop() {
	s.mu.Lock()
	if s.analysis != nil {
		s.analysis.Cancel()
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
