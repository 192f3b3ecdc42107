package market

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrMarketDataUnavailable covers every upstream failure mode: timeout, non-2xx
// status and malformed payload. Callers match it with errors.Is and retry on
// the next poll cycle.
var ErrMarketDataUnavailable = errors.New("market data unavailable")

// Snapshot is a point-in-time view of a collection's market state. Snapshots
// are ephemeral: they live inside the client cache for one TTL window and are
// never persisted.
type Snapshot struct {
	Slug           string
	Name           string
	Ranking        int
	FloorEth       decimal.Decimal
	FloorUsd       decimal.Decimal
	FloorChange24h float64
	Volume24h      decimal.Decimal
	Sales24h       int
	FetchedAt      time.Time
}
