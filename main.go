package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/config"
	"github.com/raine/telegram-nutrition-bot/internal/bot"
	"github.com/raine/telegram-nutrition-bot/internal/llm"
	"github.com/raine/telegram-nutrition-bot/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const logFileName = "telegram-nutrition-bot.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	if missing := bot.CheckRequiredConfig(); len(missing) > 0 {
		if bot.IsInteractiveTerminal() {
			if !bot.RunSetupWizard() {
				bot.WaitOnWindows()
				os.Exit(1)
			}
		} else {
			// Non-interactive (systemd, k8s, etc.)
			bot.FatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	// JOURNAL_STREAM is set by systemd when running as a service, where
	// journald keeps the logs and the working directory may be read-only.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			bot.FatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	cfg, err := config.Load(os.Getenv(config.FileEnvVar))
	if err != nil {
		bot.FatalWithWait("invalid configuration: %v", err)
	}

	backend, err := llm.ParseBackend(cfg.VisionBackend)
	if err != nil {
		bot.FatalWithWait("%v", err)
	}
	model := cfg.GeminiModel
	if backend == llm.BackendClaude {
		model = cfg.ClaudeModel
	}

	tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		bot.FatalWithWait("failed to initialize telegram bot: %v", err)
	}
	tg.Debug = false
	log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

	// Register bot commands for Telegram's command menu
	bot.RegisterCommands(tg)

	encryptionKey, err := storage.DeriveKey(cfg.TokenKey)
	if err != nil {
		bot.FatalWithWait("failed to derive encryption key: %v", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, encryptionKey)
	if err != nil {
		bot.FatalWithWait("failed to initialize store: %v", err)
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	clients := llm.NewPool(llm.PoolConfig{
		Backend:          backend,
		Model:            model,
		DefaultKey:       cfg.DefaultAPIKey(),
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	})
	log.Info().
		Str("backend", string(backend)).
		Str("model", model).
		Int("breakerThreshold", cfg.BreakerThreshold).
		Dur("breakerCooldown", cfg.BreakerCooldown).
		Msg("inference client pool initialized")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := bot.NewBot(tg, store, clients, bot.Config{
		AdminID:            cfg.AdminID,
		DefaultMultiSample: cfg.DefaultMultiSample,
	})
	defer b.Shutdown()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runBot(ctx, tg, b)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
