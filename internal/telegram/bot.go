package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/commands"
	"nftfloor-telegram-bot/internal/database"
	"nftfloor-telegram-bot/internal/market"
	"nftfloor-telegram-bot/lib/helpers"
	"nftfloor-telegram-bot/lib/translation"
)

const commandTimeout = 20 * time.Second

// NewBot creates new telegram bot
func NewBot(c BotConfig, cmds *commands.Handler, alerts *alertstore.Store, m *market.Client) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:      bot,
		Config:   c,
		Commands: cmds,
		Alerts:   alerts,
		Market:   m,
	}, nil
}

// GetUpdatesChannel gets new updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.Bot.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// Send implements the dispatcher's Sender capability.
func (b *Bot) Send(chatID int64, text string) error {
	return b.SendMessage(Message{ChatID: chatID, Text: text})
}

// ParseArguments splits a command argument string into its first token and
// the remainder.
func ParseArguments(args string) (string, string) {
	re := regexp.MustCompile(`^(\S+)\s*(.+)?$`)
	matches := re.FindStringSubmatch(args)

	if len(matches) >= 2 {
		first := matches[1]
		rest := ""
		if len(matches) == 3 {
			rest = matches[2]
		}
		return first, rest
	}
	return "", ""
}

// HandleUpdate processes Telegram updates
func (b *Bot) HandleUpdate(u tgbotapi.Update) string {
	text := b.helpText()
	log.Debugf("received command: %s", u.Message.Command())

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error

	switch u.Message.Command() {
	case "start":
		text = b.startText()
	case "help":
		text = b.helpText()
	case "price":
		if text, err = b.Commands.CommandPrice(ctx, u.Message.CommandArguments()); err != nil {
			text = helpers.EscapeMarkdownV2(translation.Translate("Collection not found"))
			log.Error(err)
		}
	case "rankings":
		limit := 0
		if n, convErr := strconv.Atoi(strings.TrimSpace(u.Message.CommandArguments())); convErr == nil {
			limit = n
		}
		if text, err = b.Commands.CommandRankings(ctx, limit); err != nil {
			text = helpers.EscapeMarkdownV2(translation.Translate("Ranking data unavailable"))
			log.Error(err)
		}
	case "topsales":
		if text, err = b.Commands.CommandTopSales(ctx); err != nil {
			text = helpers.EscapeMarkdownV2(translation.Translate("Sales data unavailable"))
			log.Error(err)
		}
	case "alerts":
		text = b.handleAlertCommand(ctx, u.Message.Chat.ID, u.Message.CommandArguments())
	case "digest":
		text = b.handleDigestCommand(u.Message.Chat.ID, u.Message.CommandArguments())
	case "language":
		text = b.handleLanguageCommand(u.Message.Chat.ID, u.Message.CommandArguments())
	}

	return text
}

func (b *Bot) handleAlertCommand(ctx context.Context, chatID int64, args string) string {
	sub, rest := ParseArguments(strings.TrimSpace(args))

	switch sub {
	case "list":
		return b.formatAlertList(chatID)
	case "add":
		return b.handleAlertAdd(ctx, chatID, rest)
	case "remove":
		return b.handleAlertRemove(chatID, rest)
	case "arm":
		return b.handleAlertArm(chatID, rest)
	case "disable":
		return b.handleAlertDisable(chatID, rest)
	default:
		return b.alertUsageText()
	}
}

func (b *Bot) handleAlertAdd(ctx context.Context, chatID int64, args string) string {
	slug, rest := ParseArguments(args)
	priceArg, directionArg := ParseArguments(rest)
	if slug == "" || priceArg == "" {
		return b.alertUsageText()
	}

	threshold, err := decimal.NewFromString(priceArg)
	if err != nil || !threshold.IsPositive() {
		return helpers.EscapeMarkdownV2(translation.Translate("Invalid price. Please enter a positive number of ETH."))
	}

	// Confirm the collection exists and grab its floor so the direction can
	// be inferred when the user leaves it out.
	snap, snapErr := b.Market.GetSnapshot(ctx, slug)
	if snapErr != nil {
		log.Debugf("could not resolve collection %s: %v", slug, snapErr)
		return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Collection %s not found. Use the slug from nftpricefloor.com, e.g. cryptopunks."), slug))
	}

	var direction alertstore.Direction
	switch strings.ToLower(strings.TrimSpace(directionArg)) {
	case "above":
		direction = alertstore.DirectionAbove
	case "below":
		direction = alertstore.DirectionBelow
	case "":
		direction = alertstore.DirectionAbove
		if threshold.LessThan(snap.FloorEth) {
			direction = alertstore.DirectionBelow
		}
	default:
		return b.alertUsageText()
	}

	rule, err := b.Alerts.Add(chatID, slug, direction, threshold)
	if err != nil {
		if errors.Is(err, alertstore.ErrCapacityExceeded) {
			return helpers.EscapeMarkdownV2(fmt.Sprintf(
				translation.Translate("You already have %d alerts, which is the limit. Remove one with /alerts remove <id> first."),
				b.Config.MaxAlerts,
			))
		}
		log.Errorf("failed to add alert: %v", err)
		return helpers.EscapeMarkdownV2(translation.Translate("Failed to save alert. Please try again later."))
	}

	directionText := translation.Translate("rises above")
	if rule.Direction == alertstore.DirectionBelow {
		directionText = translation.Translate("drops below")
	}

	return fmt.Sprintf(
		"✅ *%s*\n\n%s\n%s",
		helpers.EscapeMarkdownV2(translation.Translate("Alert Created")),
		helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("%s: notify when the floor %s %s."), snap.Name, directionText, helpers.FormatEth(rule.Threshold))),
		helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Current floor: %s"), helpers.FormatEth(snap.FloorEth))),
	)
}

func (b *Bot) handleAlertRemove(chatID int64, args string) string {
	rule, ok := b.resolveRule(chatID, args)
	if !ok {
		return helpers.EscapeMarkdownV2(translation.Translate("Alert not found. Use /alerts list to see your alert IDs."))
	}

	if err := b.Alerts.Remove(chatID, rule.ID); err != nil {
		return helpers.EscapeMarkdownV2(translation.Translate("Alert not found. Use /alerts list to see your alert IDs."))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Alert for %s removed."), rule.Slug))
}

func (b *Bot) handleAlertArm(chatID int64, args string) string {
	rule, ok := b.resolveRule(chatID, args)
	if !ok {
		return helpers.EscapeMarkdownV2(translation.Translate("Alert not found. Use /alerts list to see your alert IDs."))
	}

	if err := b.Alerts.Arm(chatID, rule.ID); err != nil {
		return helpers.EscapeMarkdownV2(translation.Translate("Alert not found. Use /alerts list to see your alert IDs."))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Alert for %s re-armed. It can fire again on the next crossing."), rule.Slug))
}

func (b *Bot) handleAlertDisable(chatID int64, args string) string {
	rule, ok := b.resolveRule(chatID, args)
	if !ok {
		return helpers.EscapeMarkdownV2(translation.Translate("Alert not found. Use /alerts list to see your alert IDs."))
	}

	if err := b.Alerts.Disable(rule.ID); err != nil {
		return helpers.EscapeMarkdownV2(translation.Translate("Alert not found. Use /alerts list to see your alert IDs."))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Alert for %s paused. Re-enable it with /alerts arm <id>."), rule.Slug))
}

// resolveRule accepts either a full rule id or the 1-based position from
// /alerts list.
func (b *Bot) resolveRule(chatID int64, arg string) (alertstore.Rule, bool) {
	arg = strings.TrimSpace(arg)
	rules := b.Alerts.List(chatID)

	if id, err := uuid.Parse(arg); err == nil {
		for _, r := range rules {
			if r.ID == id {
				return r, true
			}
		}
		return alertstore.Rule{}, false
	}

	if idx, err := strconv.Atoi(arg); err == nil && idx >= 1 && idx <= len(rules) {
		return rules[idx-1], true
	}
	return alertstore.Rule{}, false
}

func (b *Bot) formatAlertList(chatID int64) string {
	rules := b.Alerts.List(chatID)
	if len(rules) == 0 {
		return helpers.EscapeMarkdownV2(translation.Translate("You have no alerts. Create one with /alerts add <collection> <price>."))
	}

	var list strings.Builder
	list.WriteString(fmt.Sprintf("🔔 *%s*\n\n", helpers.EscapeMarkdownV2(translation.Translate("Your Alerts"))))
	for i, r := range rules {
		stateIcon := "🟢"
		switch r.State {
		case alertstore.StateFired:
			stateIcon = "✅"
		case alertstore.StateDisabled:
			stateIcon = "⏸"
		}

		directionText := translation.Translate("above")
		if r.Direction == alertstore.DirectionBelow {
			directionText = translation.Translate("below")
		}

		list.WriteString(fmt.Sprintf(
			"%d\\. %s %s %s %s — %s\n",
			i+1,
			stateIcon,
			helpers.EscapeMarkdownV2(r.Slug),
			helpers.EscapeMarkdownV2(directionText),
			helpers.EscapeMarkdownV2(helpers.FormatEth(r.Threshold)),
			helpers.EscapeMarkdownV2(helpers.FormatDate(r.CreatedAt)),
		))
	}
	list.WriteString("\n")
	list.WriteString(helpers.EscapeMarkdownV2(translation.Translate("Fired alerts stay quiet until you /alerts arm <id> them again.")))
	return list.String()
}

func (b *Bot) handleDigestCommand(chatID int64, args string) string {
	sub, rest := ParseArguments(strings.TrimSpace(args))
	settings := database.GetDigestSettings(chatID)

	switch sub {
	case "on":
		settings.Enabled = true
	case "off":
		settings.Enabled = false
	case "time":
		t := strings.TrimSpace(rest)
		if _, err := time.Parse("15:04", t); err != nil {
			return helpers.EscapeMarkdownV2(translation.Translate("Invalid time. Use /digest time HH:MM (UTC)."))
		}
		settings.Time = t
	default:
		status := translation.Translate("off")
		if settings.Enabled {
			status = translation.Translate("on")
		}
		return helpers.EscapeMarkdownV2(fmt.Sprintf(
			translation.Translate("Daily digest is %s (delivery at %s UTC). Use /digest on, /digest off or /digest time HH:MM."),
			status, settings.Time,
		))
	}

	if err := database.SetDigestSettings(settings); err != nil {
		log.Errorf("failed to save digest settings: %v", err)
		return helpers.EscapeMarkdownV2(translation.Translate("Failed to save settings. Please try again later."))
	}

	if settings.Enabled {
		return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Daily digest enabled, delivery at %s UTC."), settings.Time))
	}
	return helpers.EscapeMarkdownV2(translation.Translate("Daily digest disabled."))
}

func (b *Bot) handleLanguageCommand(chatID int64, args string) string {
	lang := strings.ToLower(strings.TrimSpace(args))
	if lang == "" {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /language <code>, e.g. /language en"))
	}

	if err := database.SetUserLanguage(chatID, lang); err != nil {
		log.Errorf("failed to save language preference: %v", err)
		return helpers.EscapeMarkdownV2(translation.Translate("Failed to save settings. Please try again later."))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Language set to %s."), lang))
}

func (b *Bot) startText() string {
	return fmt.Sprintf(
		"👋 *%s*\n\n%s\n\n%s",
		helpers.EscapeMarkdownV2(translation.Translate("NFT Floor Bot")),
		helpers.EscapeMarkdownV2(translation.Translate("I track NFT collection floor prices and notify you when they cross your targets.")),
		b.helpText(),
	)
}

func (b *Bot) helpText() string {
	return helpers.EscapeMarkdownV2(translation.Translate(
		"Commands:\n" +
			"/price <collection> - floor price and stats\n" +
			"/rankings [n] - top collections by 24h volume\n" +
			"/topsales - hottest collections of the day\n" +
			"/alerts list|add <collection> <price> [above|below]|remove <id>|arm <id> - manage floor alerts\n" +
			"/digest on|off|time HH:MM - daily digest\n" +
			"/language <code> - set language"))
}

func (b *Bot) alertUsageText() string {
	return helpers.EscapeMarkdownV2(translation.Translate(
		"Floor price alerts:\n" +
			"/alerts list - view your alerts\n" +
			"/alerts add <collection> <price> [above|below] - add an alert, e.g. /alerts add cryptopunks 50\n" +
			"/alerts remove <id> - remove an alert\n" +
			"/alerts arm <id> - re-arm a fired or paused alert\n" +
			"/alerts disable <id> - pause an alert without deleting it"))
}
