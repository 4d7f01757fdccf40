package bot

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/raine/telegram-nutrition-bot/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	geminiAPIBase   = "https://generativelanguage.googleapis.com"
	validateTimeout = 10 * time.Second
)

// envOrder is the order keys are written to config.env.
var envOrder = []string{"BOT_TOKEN", "VISION_BACKEND", "GEMINI_API_KEY", "ANTHROPIC_API_KEY", "ADMIN_TELEGRAM_ID", "NUTRI_TOKEN_KEY"}

// backendKeyVar is the credential variable the configured backend needs.
func backendKeyVar() string {
	if strings.EqualFold(os.Getenv("VISION_BACKEND"), "claude") {
		return "ANTHROPIC_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// CheckRequiredConfig returns the names of required environment variables
// that are not set.
func CheckRequiredConfig() []string {
	var missing []string
	for _, v := range []string{"BOT_TOKEN", backendKeyVar(), "NUTRI_TOKEN_KEY", "ADMIN_TELEGRAM_ID"} {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// IsInteractiveTerminal returns true if both stdin and stdout are TTYs.
func IsInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// setupValidator checks credentials against the live APIs.
type setupValidator struct {
	client       *resty.Client
	telegramBase string
	geminiBase   string
}

func newSetupValidator() *setupValidator {
	return &setupValidator{
		client:       resty.New().SetTimeout(validateTimeout),
		telegramBase: telegramAPIBase,
		geminiBase:   geminiAPIBase,
	}
}

// RunSetupWizard collects the missing configuration interactively and writes
// it to config.env. Returns true if the bot should continue starting.
func RunSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("🍱 Telegram Nutrition Bot - First-time Setup"))
	fmt.Println()

	validator := newSetupValidator()
	keyVar := backendKeyVar()
	var botToken, apiKey, adminID string

	keyInput := huh.NewInput().Value(&apiKey)
	if keyVar == "ANTHROPIC_API_KEY" {
		keyInput = keyInput.
			Title("Anthropic API Key").
			Description("Get yours at https://console.anthropic.com/settings/keys").
			Validate(func(s string) error {
				if s == "" {
					return errors.New("API key is required")
				}
				return nil
			})
	} else {
		keyInput = keyInput.
			Title("Gemini API Key").
			Description("Get yours at https://aistudio.google.com/apikey").
			Validate(func(s string) error {
				if s == "" {
					return errors.New("API key is required")
				}
				return validator.validateGeminiKey(s)
			})
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token").
				Description("Message @BotFather on Telegram → /newbot → copy token").
				Value(&botToken).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("token is required")
					}
					return validator.validateTelegramToken(s)
				}),
		),
		huh.NewGroup(keyInput),
		huh.NewGroup(
			huh.NewInput().
				Title("Your Telegram User ID").
				Description("Message @userinfobot to get your ID: https://t.me/userinfobot").
				Value(&adminID).
				Validate(validateUserID),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"BOT_TOKEN":         botToken,
		keyVar:              apiKey,
		"ADMIN_TELEGRAM_ID": adminID,
		"NUTRI_TOKEN_KEY":   generateTokenKey(),
	}
	if backend := os.Getenv("VISION_BACKEND"); backend != "" {
		values["VISION_BACKEND"] = backend
	}

	configPath, err := config.EnvFilePath()
	if err == nil {
		err = writeEnvFile(configPath, values)
	}
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		WaitOnWindows()
		return false
	}

	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)
	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	fmt.Println("Starting bot...")
	fmt.Println()

	return true
}

func validateUserID(s string) error {
	if s == "" {
		return errors.New("user ID is required")
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return errors.New("must be a number")
	}
	return nil
}

func generateTokenKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("nutri-%d-%d", time.Now().UnixNano(), os.Getpid())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// validateTelegramToken calls getMe with the token.
func (v *setupValidator) validateTelegramToken(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	_, err := v.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&result).
		Get(fmt.Sprintf("%s/bot%s/getMe", v.telegramBase, token))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("connection timed out - check your internet")
		}
		return errors.New("connection failed - check your internet")
	}

	if !result.OK {
		if result.Description != "" {
			return errors.New(result.Description)
		}
		return errors.New("token rejected by Telegram")
	}
	return nil
}

// validateGeminiKey lists models, which needs nothing but a valid key.
func (v *setupValidator) validateGeminiKey(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("key", key).
		SetError(&apiErr).
		Get(v.geminiBase + "/v1beta/models")
	if err != nil {
		return errors.New("connection failed - check your internet")
	}

	switch code := resp.StatusCode(); {
	case code == 400 || code == 401 || code == 403:
		if apiErr.Error.Message != "" {
			return errors.New(apiErr.Error.Message)
		}
		return fmt.Errorf("API key rejected (HTTP %d)", code)
	case code != 200:
		return fmt.Errorf("unexpected response (HTTP %d)", code)
	}
	return nil
}

// writeEnvFile writes values to path with 0600 permissions since the file
// holds secrets.
func writeEnvFile(path string, values map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range envOrder {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}
	return nil
}

// WaitOnWindows pauses so users can read errors before the console closes.
func WaitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

// FatalWithWait logs a fatal error and waits on Windows before exiting.
func FatalWithWait(format string, args ...interface{}) {
	log.Error().Msg(fmt.Sprintf(format, args...))
	WaitOnWindows()
	os.Exit(1)
}
