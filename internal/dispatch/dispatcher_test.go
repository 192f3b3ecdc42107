package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/evaluator"
)

type fakeSender struct {
	sent    []int64
	failFor map[int64]error
}

func (f *fakeSender) Send(chatID int64, text string) error {
	if err, ok := f.failFor[chatID]; ok {
		return err
	}
	f.sent = append(f.sent, chatID)
	return nil
}

func event(owner int64, slug string) evaluator.TriggerEvent {
	return evaluator.TriggerEvent{
		RuleID:    uuid.New(),
		Owner:     owner,
		Slug:      slug,
		Observed:  decimal.NewFromInt(41),
		Threshold: decimal.NewFromInt(40),
		Direction: alertstore.DirectionAbove,
		At:        time.Now(),
	}
}

func TestDispatchOneMessagePerEvent(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, 100)

	events := []evaluator.TriggerEvent{
		event(1, "cryptopunks"),
		event(1, "azuki"),
		event(2, "cryptopunks"),
	}

	results := d.Dispatch(context.Background(), events)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}
	assert.Equal(t, []int64{1, 1, 2}, sender.sent, "distinct alerts are never batched into one message")
}

func TestDispatchIsolatesRecipientFailure(t *testing.T) {
	sender := &fakeSender{failFor: map[int64]error{1: errors.New("recipient unreachable")}}
	d := NewDispatcher(sender, 100)

	events := []evaluator.TriggerEvent{
		event(1, "cryptopunks"),
		event(2, "azuki"),
	}

	results := d.Dispatch(context.Background(), events)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, []int64{2}, sender.sent, "a failing recipient must not block the rest")
}

func TestDispatchStopsOnCanceledContext(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.Dispatch(ctx, []evaluator.TriggerEvent{event(1, "cryptopunks"), event(2, "azuki")})
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Error(t, res.Err, "canceled context is reported per event, not swallowed")
	}
	assert.Empty(t, sender.sent)
}

func TestFormatAlertMessage(t *testing.T) {
	ev := event(1, "cryptopunks")
	text := FormatAlertMessage(ev)

	assert.Contains(t, text, "cryptopunks")
	assert.Contains(t, text, "41")
	assert.Contains(t, text, "40")

	below := ev
	below.Direction = alertstore.DirectionBelow
	assert.NotEqual(t, text, FormatAlertMessage(below))
}

func TestSendPacedUsesSharedBudget(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, 100)

	require.NoError(t, d.SendPaced(context.Background(), 5, "digest"))
	assert.Equal(t, []int64{5}, sender.sent)
}
