package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	AppName     = "telegram-nutrition-bot"
	EnvFileName = "config.env"

	// FileEnvVar names an optional YAML file merged under the environment.
	FileEnvVar = "NUTRITION_BOT_CONFIG"
)

// Config is the process-wide configuration.
type Config struct {
	BotToken           string        `mapstructure:"bot_token"`
	TokenKey           string        `mapstructure:"nutri_token_key"`
	AdminID            int64         `mapstructure:"admin_telegram_id"`
	DBPath             string        `mapstructure:"nutri_db_path"`
	VisionBackend      string        `mapstructure:"vision_backend"`
	GeminiAPIKey       string        `mapstructure:"gemini_api_key"`
	GeminiModel        string        `mapstructure:"gemini_model"`
	AnthropicAPIKey    string        `mapstructure:"anthropic_api_key"`
	ClaudeModel        string        `mapstructure:"claude_model"`
	DefaultMultiSample bool          `mapstructure:"default_multi_sample"`
	BreakerThreshold   int           `mapstructure:"breaker_threshold"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

var defaults = map[string]any{
	"nutri_db_path":        "nutrition.db",
	"vision_backend":       "gemini",
	"default_multi_sample": false,
	"breaker_threshold":    5,
	"breaker_cooldown":     "30s",
}

// keys lists every setting; each is read from the upper-cased environment
// variable of the same name.
var keys = []string{
	"bot_token",
	"nutri_token_key",
	"admin_telegram_id",
	"nutri_db_path",
	"vision_backend",
	"gemini_api_key",
	"gemini_model",
	"anthropic_api_key",
	"claude_model",
	"default_multi_sample",
	"breaker_threshold",
	"breaker_cooldown",
}

// Dir returns the application's config directory, creating it if needed.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// EnvFilePath returns the full path to config.env.
func EnvFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configPath, err := EnvFilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("binding %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.VisionBackend = strings.ToLower(strings.TrimSpace(cfg.VisionBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultAPIKey is the shared credential of the selected backend.
func (c *Config) DefaultAPIKey() string {
	if c.VisionBackend == "claude" {
		return c.AnthropicAPIKey
	}
	return c.GeminiAPIKey
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is not set"))
	}
	if c.TokenKey == "" {
		errs = append(errs, errors.New("NUTRI_TOKEN_KEY is not set"))
	}
	if c.AdminID == 0 {
		errs = append(errs, errors.New("ADMIN_TELEGRAM_ID is not set"))
	}
	switch c.VisionBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is not set"))
		}
	case "claude":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("VISION_BACKEND must be gemini or claude, got %q", c.VisionBackend))
	}
	if c.BreakerThreshold < 1 {
		errs = append(errs, fmt.Errorf("BREAKER_THRESHOLD must be at least 1, got %d", c.BreakerThreshold))
	}
	if c.BreakerCooldown <= 0 {
		errs = append(errs, fmt.Errorf("BREAKER_COOLDOWN must be positive, got %s", c.BreakerCooldown))
	}
	return errors.Join(errs...)
}
