package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/internal/estimate"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
)

// ClientProvider hands out the inference client for a user's credential.
type ClientProvider interface {
	ClientFor(ctx context.Context, credential string) (estimate.InferenceClient, error)
	Forget(credential string)
}

// Runner performs one estimation run.
type Runner interface {
	Run(ctx context.Context, image nutrition.Image, cfg nutrition.AnalysisConfig) (*nutrition.Result, error)
}

// AnalysisHandler turns photos into nutrition estimates.
type AnalysisHandler struct {
	tg         BotAPI
	clients    ClientProvider
	downloader *ImageDownloader
	newRunner  func(client estimate.InferenceClient) Runner
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(tg BotAPI, clients ClientProvider) *AnalysisHandler {
	return &AnalysisHandler{
		tg:         tg,
		clients:    clients,
		downloader: NewImageDownloader(),
		newRunner: func(client estimate.InferenceClient) Runner {
			return estimate.NewAggregator(client)
		},
	}
}

// imageFileID returns the file to analyze: the largest photo size, or an
// image sent as a document.
func imageFileID(message *tgbotapi.Message) (string, bool) {
	if len(message.Photo) > 0 {
		// Telegram orders sizes from smallest to largest
		return message.Photo[len(message.Photo)-1].FileID, true
	}
	if message.Document != nil && (message.Document.MimeType == "" || strings.HasPrefix(message.Document.MimeType, "image/")) {
		return message.Document.FileID, true
	}
	return "", false
}

// HandlePhoto downloads the image and starts a background run. Only one run
// may be active per session.
// Called from session worker.
func (h *AnalysisHandler) HandlePhoto(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if session.IsAnalyzing() {
		session.reply(MsgAnalysisBusy)
		return
	}

	fileID, ok := imageFileID(message)
	if !ok {
		session.reply(MsgNotAnImage)
		return
	}

	data, err := h.downloader.DownloadFromTelegramFileID(ctx, h.tg.GetFileDirectURL, fileID)
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Str("fileID", fileID).Msg("failed to download image")
		if errors.Is(err, ErrImageTooLarge) {
			session.reply(MsgImageTooLarge)
		} else {
			session.reply(MsgDownloadFailed)
		}
		return
	}

	mimeType, err := DetectImageMIME(data)
	if err != nil {
		log.Info().Err(err).Int64("userId", session.userId).Msg("rejected upload")
		session.reply(MsgNotAnImage)
		return
	}

	settings := session.Settings()
	client, err := h.clients.ClientFor(ctx, settings.APICredential)
	if err != nil {
		h.replyWithFailure(session, err)
		return
	}

	image := nutrition.Image{Data: data, MIMEType: mimeType, Ref: fileID}
	h.start(ctx, session, h.newRunner(client), image, settings.AnalysisConfig())
}

// start registers the run and executes it in the background. The outcome is
// posted back to the session worker.
func (h *AnalysisHandler) start(ctx context.Context, session *UserSession, runner Runner, image nutrition.Image, cfg nutrition.AnalysisConfig) {
	runCtx, cancel := context.WithCancel(ctx)
	runID, ok := session.beginAnalysis(cancel)
	if !ok {
		cancel()
		session.reply(MsgAnalysisBusy)
		return
	}

	progress := MsgAnalyzing
	if cfg.SampleCount > 1 {
		progress = fmt.Sprintf(MsgAnalyzingSamples, cfg.SampleCount)
	}
	sent := session.reply(progress)
	session.setProgressMessage(runID, sent.MessageID)

	log.Info().
		Int64("userId", session.userId).
		Int("runId", runID).
		Int("sampleCount", cfg.SampleCount).
		Str("referenceObject", string(cfg.ReferenceObject)).
		Str("mimeType", image.MIMEType).
		Int("imageBytes", len(image.Data)).
		Msg("starting analysis")

	go func() {
		typingCtx, stopTyping := context.WithCancel(runCtx)
		go session.startTypingLoop(typingCtx)

		result, err := runner.Run(runCtx, image, cfg)
		stopTyping()
		cancel()

		session.Send(SessionMessage{
			Type:     "analysis_complete",
			Ctx:      ctx,
			Analysis: &AnalysisOutcome{RunID: runID, Result: result, Err: err},
		})
	}()
}

// HandleAnalysisComplete shows the outcome of a run and records successful
// results. Outcomes of cancelled runs are discarded.
// Called from session worker.
func (h *AnalysisHandler) HandleAnalysisComplete(ctx context.Context, session *UserSession, outcome *AnalysisOutcome) {
	state := session.endAnalysis(outcome.RunID)
	if state == nil {
		log.Info().Int64("userId", session.userId).Int("runId", outcome.RunID).Msg("discarding outcome of abandoned analysis")
		return
	}
	if state.ProgressMsgID != 0 {
		session.deleteMessage(state.ProgressMsgID)
	}

	if outcome.Err != nil {
		h.replyWithFailure(session, outcome.Err)
		return
	}

	result := *outcome.Result
	session.lastResult = &result

	var saveErr error
	if session.history != nil {
		if saveErr = session.history.Record(result); saveErr != nil {
			log.Error().Err(saveErr).Int64("userId", session.userId).Str("resultId", result.ID).Msg("failed to record result")
		}
	}

	sendResult(session, result, nutrition.DefaultPortion)
	if saveErr != nil {
		session.reply(MsgHistorySaveError)
	}
}

// HandleCancel abandons the active run.
// Called from session worker.
func (h *AnalysisHandler) HandleCancel(session *UserSession) {
	if session.cancelAnalysis() {
		session.reply(MsgAnalysisCancelled)
		return
	}
	session.reply(MsgNoAnalysisInProgress)
}

// HandlePortionCallback re-renders a result message at the chosen portion.
// The stored result is never modified.
// Called from session worker.
func (h *AnalysisHandler) HandlePortionCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	id, portion, err := parsePortionCallback(query.Data)
	if err != nil {
		log.Warn().Err(err).Str("data", query.Data).Msg("invalid portion callback")
		return
	}

	result, ok := session.findResult(id)
	if !ok {
		session.reply(MsgResultGone)
		return
	}
	if query.Message == nil {
		sendResult(session, result, portion)
		return
	}

	view, err := nutrition.Scale(&result, portion)
	if err != nil {
		session.replyWithError(err)
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(
		query.Message.Chat.ID,
		query.Message.MessageID,
		formatResult(result, view),
		portionKeyboard(id, portion),
	)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.tg.Send(edit); err != nil {
		// Pressing a button at a range limit re-renders identical content
		log.Debug().Err(err).Str("resultId", id).Int("portion", int(portion)).Msg("failed to edit result message")
	}
}

func (h *AnalysisHandler) replyWithFailure(session *UserSession, err error) {
	kind := nutrition.Classify(err)
	log.Warn().Err(err).Int64("userId", session.userId).Stringer("kind", kind).Msg("analysis failed")

	switch kind {
	case nutrition.KindAuth:
		session.reply(MsgAuthFailed)
	case nutrition.KindTransport, nutrition.KindService:
		session.reply(MsgTransientError)
	case nutrition.KindMalformed:
		session.reply(MsgMalformedResponse)
	case nutrition.KindNotFood, nutrition.KindNoValidSamples:
		session.reply(MsgNotFood)
	default:
		session.reply(MsgAnalysisFailed, escapeMarkdown(err.Error()))
	}
}

// sendResult sends a result as a new message with portion buttons.
func sendResult(session *UserSession, result nutrition.Result, portion nutrition.Portion) {
	view, err := nutrition.Scale(&result, portion)
	if err != nil {
		session.replyWithError(err)
		return
	}
	msg := tgbotapi.NewMessage(session.userId, formatResult(result, view))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = portionKeyboard(result.ID, portion)
	session.replyWithMessage(msg)
}
