// Package commands implements the user-facing query commands against the
// market data client.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"nftfloor-telegram-bot/internal/market"
	"nftfloor-telegram-bot/lib/helpers"
	"nftfloor-telegram-bot/lib/translation"
)

const defaultRankingsLimit = 10

// Handler binds command implementations to the market client. No package
// globals: the client is owned by main and passed in.
type Handler struct {
	Market *market.Client
}

func NewHandler(m *market.Client) *Handler {
	return &Handler{Market: m}
}

// CommandPrice resolves a collection by name or slug and renders its floor
// price card.
func (h *Handler) CommandPrice(ctx context.Context, argument string) (string, error) {
	log.Debugf("processing command /price with argument: %s", argument)

	if strings.TrimSpace(argument) == "" {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /price <collection>, e.g. /price cryptopunks")), nil
	}

	matches, err := h.Market.Search(ctx, argument)
	if err != nil {
		return "", errors.Wrap(err, "command /price")
	}
	if len(matches) == 0 {
		return "", errors.Errorf("no collection matches query: %s", argument)
	}

	// The listing payload already carries everything the card shows; the
	// detail endpoint is only needed when the listing entry is stale.
	snap := matches[0]
	if snap.FloorEth.IsZero() {
		detailed, err := h.Market.GetSnapshot(ctx, snap.Slug)
		if err == nil {
			snap = detailed
		}
	}

	return formatSnapshotCard(snap), nil
}

// CommandRankings renders the top collections by 24h volume.
func (h *Handler) CommandRankings(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = defaultRankingsLimit
	}

	ranked, err := h.Market.Rankings(ctx, 0, limit)
	if err != nil {
		return "", errors.Wrap(err, "command /rankings")
	}
	if len(ranked) == 0 {
		return helpers.EscapeMarkdownV2(translation.Translate("No ranking data available right now.")), nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🏆 *%s*\n\n", helpers.EscapeMarkdownV2(translation.Translate("Top NFT Collections by 24h Volume"))))
	for i, snap := range ranked {
		b.WriteString(fmt.Sprintf(
			"%d\\. %s\n   🏠 %s \\(%s\\)  💰 %s\n",
			i+1,
			collectionLink(snap),
			helpers.EscapeMarkdownV2(helpers.FormatEth(snap.FloorEth)),
			helpers.EscapeMarkdownV2(helpers.FormatUsd(snap.FloorUsd)),
			helpers.EscapeMarkdownV2(helpers.FormatEth(snap.Volume24h)),
		))
	}
	return b.String(), nil
}

// CommandTopSales shows the highest-volume collections of the last 24h. The
// provider has no dedicated sales feed, so volume ranking stands in for it.
func (h *Handler) CommandTopSales(ctx context.Context) (string, error) {
	ranked, err := h.Market.Rankings(ctx, 0, 5)
	if err != nil {
		return "", errors.Wrap(err, "command /topsales")
	}
	if len(ranked) == 0 {
		return helpers.EscapeMarkdownV2(translation.Translate("No sales data available right now.")), nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔥 *%s*\n\n", helpers.EscapeMarkdownV2(translation.Translate("Hottest Collections (24h)"))))
	for i, snap := range ranked {
		b.WriteString(fmt.Sprintf(
			"%d\\. %s — %s %s, %d %s\n",
			i+1,
			collectionLink(snap),
			helpers.EscapeMarkdownV2(helpers.FormatEth(snap.Volume24h)),
			helpers.EscapeMarkdownV2(translation.Translate("volume")),
			snap.Sales24h,
			helpers.EscapeMarkdownV2(translation.Translate("sales")),
		))
	}
	return b.String(), nil
}

func formatSnapshotCard(snap market.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 %s\n\n", collectionLink(snap)))
	b.WriteString(fmt.Sprintf("🏠 *%s* %s \\(%s\\)\n",
		helpers.EscapeMarkdownV2(translation.Translate("Floor Price:")),
		helpers.EscapeMarkdownV2(helpers.FormatEth(snap.FloorEth)),
		helpers.EscapeMarkdownV2(helpers.FormatUsd(snap.FloorUsd)),
	))
	b.WriteString(fmt.Sprintf("📈 *%s* %s\n",
		helpers.EscapeMarkdownV2(translation.Translate("24h Change:")),
		helpers.EscapeMarkdownV2(helpers.FormatPercent(snap.FloorChange24h)),
	))
	b.WriteString(fmt.Sprintf("💰 *%s* %s \\(%d %s\\)\n",
		helpers.EscapeMarkdownV2(translation.Translate("24h Volume:")),
		helpers.EscapeMarkdownV2(helpers.FormatEth(snap.Volume24h)),
		snap.Sales24h,
		helpers.EscapeMarkdownV2(translation.Translate("sales")),
	))
	if snap.Ranking > 0 {
		b.WriteString(fmt.Sprintf("🏅 *%s* \\#%d\n",
			helpers.EscapeMarkdownV2(translation.Translate("Ranking:")),
			snap.Ranking,
		))
	}
	return b.String()
}

func collectionLink(snap market.Snapshot) string {
	name := snap.Name
	if name == "" {
		name = snap.Slug
	}
	return fmt.Sprintf("[%s](https://nftpricefloor.com/%s)", helpers.EscapeMarkdownV2(name), snap.Slug)
}
