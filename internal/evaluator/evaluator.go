// Package evaluator decides which alert rules have crossed their threshold in
// the current poll cycle. It is pure: rule state is read, never written, and
// re-running it on the same inputs yields the same events. The caller applies
// the resulting state changes after dispatch succeeds.
package evaluator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/market"
)

// TriggerEvent is emitted once per newly-crossed rule.
type TriggerEvent struct {
	RuleID    uuid.UUID
	Owner     int64
	Slug      string
	Observed  decimal.Decimal
	Threshold decimal.Decimal
	Direction alertstore.Direction
	At        time.Time
}

// SideUpdate records which side of its threshold a rule's floor price was on
// this cycle, so the next cycle can detect edges instead of levels.
type SideUpdate struct {
	RuleID uuid.UUID
	Side   alertstore.Side
	At     time.Time
}

// Evaluate compares active rules against the snapshots fetched this cycle.
// Rules whose collection has no snapshot (fetch failure) are skipped entirely:
// no event, no side update, so a flaky upstream can never produce a false
// trigger or shift a rule's baseline.
//
// Triggering is edge-detection. An "above" rule fires when the floor is at or
// past the threshold and the last observed side was not. A rule that has never
// been evaluated starts from an uncrossed baseline, so a rule created while
// the price is already past its threshold fires on its first evaluation —
// that is what a user asking "tell me when it hits X" expects when it already
// has.
func Evaluate(rules []alertstore.Rule, snaps map[string]market.Snapshot, now time.Time) ([]TriggerEvent, []SideUpdate) {
	var events []TriggerEvent
	var sides []SideUpdate

	for _, rule := range rules {
		if rule.State != alertstore.StateActive {
			continue
		}

		snap, ok := snaps[rule.Slug]
		if !ok {
			continue
		}

		crossed := isCrossed(rule.Direction, snap.FloorEth, rule.Threshold)
		wasCrossed := rule.LastSide == crossedSide(rule.Direction)

		if crossed && !wasCrossed {
			events = append(events, TriggerEvent{
				RuleID:    rule.ID,
				Owner:     rule.Owner,
				Slug:      rule.Slug,
				Observed:  snap.FloorEth,
				Threshold: rule.Threshold,
				Direction: rule.Direction,
				At:        now,
			})
		}

		side := crossedSide(rule.Direction)
		if !crossed {
			side = uncrossedSide(rule.Direction)
		}
		sides = append(sides, SideUpdate{RuleID: rule.ID, Side: side, At: now})
	}

	return events, sides
}

func isCrossed(d alertstore.Direction, floor, threshold decimal.Decimal) bool {
	if d == alertstore.DirectionBelow {
		return floor.LessThanOrEqual(threshold)
	}
	return floor.GreaterThanOrEqual(threshold)
}

func crossedSide(d alertstore.Direction) alertstore.Side {
	if d == alertstore.DirectionBelow {
		return alertstore.SideBelow
	}
	return alertstore.SideAbove
}

func uncrossedSide(d alertstore.Direction) alertstore.Side {
	if d == alertstore.DirectionBelow {
		return alertstore.SideAbove
	}
	return alertstore.SideBelow
}
