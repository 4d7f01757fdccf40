package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Command defines a bot command with its handler key and Telegram menu description.
type Command struct {
	Name        string // Command name without slash (e.g., "start")
	Description string // Description shown in Telegram command menu
}

// botCommands defines all available bot commands.
// This is the single source of truth for command definitions.
var botCommands = []Command{
	{Name: "history", Description: "最近的分析紀錄"},
	{Name: "clear", Description: "清除分析紀錄"},
	{Name: "mode", Description: "切換單次或多次取樣"},
	{Name: "ref", Description: "選擇參考物"},
	{Name: "apikey", Description: "設定自己的 API 金鑰"},
	{Name: "settings", Description: "查看目前設定"},
	{Name: "cancel", Description: "取消進行中的分析"},
	{Name: "help", Description: "使用說明"},
	{Name: "version", Description: "顯示版本資訊"},
}

// RegisterCommands sets the bot's command menu in Telegram.
// This should be called once at startup.
func RegisterCommands(tg BotAPI) {
	commands := make([]tgbotapi.BotCommand, len(botCommands))
	for i, cmd := range botCommands {
		commands[i] = tgbotapi.BotCommand{
			Command:     cmd.Name,
			Description: cmd.Description,
		}
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	if _, err := tg.Request(config); err != nil {
		log.Error().Err(err).Msg("failed to set bot commands")
	} else {
		log.Info().Int("count", len(commands)).Msg("registered bot commands")
	}
}
