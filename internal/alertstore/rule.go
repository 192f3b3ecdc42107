package alertstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Direction tells which way the floor price must cross the threshold.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// State of a rule. A rule fires exactly once per crossing and stays fired
// until the user re-arms or deletes it.
type State string

const (
	StateActive   State = "active"
	StateFired    State = "fired"
	StateDisabled State = "disabled"
)

// Side is the last observed position of the floor price relative to the
// threshold. Edge detection compares the current side against it.
type Side string

const (
	SideUnknown Side = "unknown"
	SideBelow   Side = "below"
	SideAbove   Side = "above"
)

var (
	ErrCapacityExceeded = errors.New("alert limit reached")
	ErrNotFound         = errors.New("alert not found")
	ErrInvalidThreshold = errors.New("threshold must be greater than zero")
)

// Rule is a single floor-price alert owned by a chat user.
type Rule struct {
	ID              uuid.UUID       `json:"id"`
	Owner           int64           `json:"owner"`
	Slug            string          `json:"slug"`
	Direction       Direction       `json:"direction"`
	Threshold       decimal.Decimal `json:"threshold"`
	State           State           `json:"state"`
	LastSide        Side            `json:"last_side"`
	CreatedAt       time.Time       `json:"created_at"`
	LastEvaluatedAt time.Time       `json:"last_evaluated_at"`
	FiredAt         *time.Time      `json:"fired_at,omitempty"`
}
