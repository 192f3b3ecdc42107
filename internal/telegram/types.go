package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/commands"
	"nftfloor-telegram-bot/internal/market"
)

// BotConfig configuration of the bot
type BotConfig struct {
	Token          string
	Debug          bool
	UpdatesTimeout int
	MaxAlerts      int
}

// Bot telegram interaction client
type Bot struct {
	Bot      *tgbotapi.BotAPI
	Config   BotConfig
	Commands *commands.Handler
	Alerts   *alertstore.Store
	Market   *market.Client
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}
