// Package dispatch delivers triggered-alert notifications through the
// messaging platform, paced to its outbound rate limit. Delivery is
// at-least-once: a failed send is reported back so the rule stays active and
// the alert re-fires on the next poll cycle, rather than being lost.
package dispatch

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/evaluator"
	"nftfloor-telegram-bot/lib/helpers"
	"nftfloor-telegram-bot/lib/translation"
)

// Sender is the outbound messaging capability. The telegram bot implements it.
type Sender interface {
	Send(chatID int64, text string) error
}

// Result reports the outcome of one notification attempt.
type Result struct {
	Event evaluator.TriggerEvent
	Err   error
}

// Dispatcher paces notification sends against a global rate budget shared by
// all recipients.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
}

// NewDispatcher creates a dispatcher sending at most ratePerSecond messages
// per second across all users.
func NewDispatcher(sender Sender, ratePerSecond int) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
	}
}

// Dispatch sends one message per event. Events are never coalesced: a user
// with three triggered alerts gets three messages. A failure for one
// recipient is recorded in its Result and does not block the rest of the
// batch.
func (d *Dispatcher) Dispatch(ctx context.Context, events []evaluator.TriggerEvent) []Result {
	results := make([]Result, 0, len(events))

	for _, ev := range events {
		if err := d.limiter.Wait(ctx); err != nil {
			results = append(results, Result{Event: ev, Err: errors.Wrap(err, "rate limit wait aborted")})
			continue
		}

		err := d.sender.Send(ev.Owner, FormatAlertMessage(ev))
		if err != nil {
			log.Errorf("failed to send alert notification to %d: %v", ev.Owner, err)
		}
		results = append(results, Result{Event: ev, Err: err})
	}

	return results
}

// SendPaced sends an arbitrary message through the same global rate budget
// the alert notifications use. The digest delivery path goes through here so
// digests and alerts cannot jointly burst past the platform limit.
func (d *Dispatcher) SendPaced(ctx context.Context, chatID int64, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait aborted")
	}
	return d.sender.Send(chatID, text)
}

// FormatAlertMessage renders the MarkdownV2 notification text for a trigger.
func FormatAlertMessage(ev evaluator.TriggerEvent) string {
	directionText := translation.Translate("risen above")
	if ev.Direction == alertstore.DirectionBelow {
		directionText = translation.Translate("dropped below")
	}

	return fmt.Sprintf(
		"🚨 *%s*\n\n*%s* %s *%s*\n%s *%s*",
		helpers.EscapeMarkdownV2(translation.Translate("Floor Price Alert")),
		helpers.EscapeMarkdownV2(ev.Slug),
		helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("floor has %s"), directionText)),
		helpers.EscapeMarkdownV2(helpers.FormatEth(ev.Threshold)),
		helpers.EscapeMarkdownV2(translation.Translate("Current floor:")),
		helpers.EscapeMarkdownV2(helpers.FormatEth(ev.Observed)),
	)
}
