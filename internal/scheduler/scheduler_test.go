package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/dispatch"
	"nftfloor-telegram-bot/internal/evaluator"
	"nftfloor-telegram-bot/internal/market"
)

type fakeFetcher struct {
	floors  map[string]float64
	failAll bool
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeFetcher) GetSnapshots(ctx context.Context, slugs []string) (map[string]market.Snapshot, map[string]error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	snaps := make(map[string]market.Snapshot)
	failed := make(map[string]error)
	for _, slug := range slugs {
		floor, ok := f.floors[slug]
		if f.failAll || !ok {
			failed[slug] = market.ErrMarketDataUnavailable
			continue
		}
		snaps[slug] = market.Snapshot{Slug: slug, FloorEth: decimal.NewFromFloat(floor), FetchedAt: time.Now()}
	}
	return snaps, failed
}

type fakeDispatcher struct {
	failOwners map[int64]bool
	dispatched [][]evaluator.TriggerEvent
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, events []evaluator.TriggerEvent) []dispatch.Result {
	f.dispatched = append(f.dispatched, events)
	results := make([]dispatch.Result, 0, len(events))
	for _, ev := range events {
		var err error
		if f.failOwners[ev.Owner] {
			err = assert.AnError
		}
		results = append(results, dispatch.Result{Event: ev, Err: err})
	}
	return results
}

func testMetrics() Metrics {
	opts := func(name string) prometheus.CounterOpts { return prometheus.CounterOpts{Name: name} }
	return Metrics{
		CyclesRun:           prometheus.NewCounter(opts("cycles_run")),
		CyclesAborted:       prometheus.NewCounter(opts("cycles_aborted")),
		AlertsTriggered:     prometheus.NewCounter(opts("alerts_triggered")),
		NotificationsSent:   prometheus.NewCounter(opts("notifications_sent")),
		NotificationsFailed: prometheus.NewCounter(opts("notifications_failed")),
	}
}

func newTestScheduler(store *alertstore.Store, f *fakeFetcher, d *fakeDispatcher) *Scheduler {
	return NewScheduler(store, f, d, testMetrics(), time.Minute, time.Second)
}

func allEvents(d *fakeDispatcher) []evaluator.TriggerEvent {
	var out []evaluator.TriggerEvent
	for _, batch := range d.dispatched {
		out = append(out, batch...)
	}
	return out
}

func TestCycleFiresAndMarksRule(t *testing.T) {
	store := alertstore.NewStore(10, "")
	_, err := store.Add(1, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(40))
	require.NoError(t, err)

	fetcher := &fakeFetcher{floors: map[string]float64{"cryptopunks": 41}}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(store, fetcher, dispatcher)

	s.RunCycle(context.Background())

	require.Len(t, allEvents(dispatcher), 1)
	assert.Equal(t, alertstore.StateFired, store.List(1)[0].State)

	// A fired rule drops out of the next cycle entirely.
	s.RunCycle(context.Background())
	assert.Len(t, allEvents(dispatcher), 1, "no duplicate fire after markFired")
}

func TestFailedSendLeavesRuleActiveForRetry(t *testing.T) {
	store := alertstore.NewStore(10, "")
	_, err := store.Add(1, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(40))
	require.NoError(t, err)

	fetcher := &fakeFetcher{floors: map[string]float64{"cryptopunks": 41}}
	dispatcher := &fakeDispatcher{failOwners: map[int64]bool{1: true}}
	s := newTestScheduler(store, fetcher, dispatcher)

	s.RunCycle(context.Background())
	rule := store.List(1)[0]
	assert.Equal(t, alertstore.StateActive, rule.State, "undelivered alert stays active")
	assert.Equal(t, alertstore.SideUnknown, rule.LastSide, "baseline unchanged so the crossing is re-detected")

	// Delivery recovers: the same crossing is dispatched again and applied.
	dispatcher.failOwners = nil
	s.RunCycle(context.Background())
	require.Len(t, allEvents(dispatcher), 2, "at-least-once delivery")
	assert.Equal(t, alertstore.StateFired, store.List(1)[0].State)
}

func TestSendFailureIsolatedPerRecipient(t *testing.T) {
	store := alertstore.NewStore(10, "")
	_, err := store.Add(1, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(40))
	require.NoError(t, err)
	_, err = store.Add(2, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(40))
	require.NoError(t, err)

	fetcher := &fakeFetcher{floors: map[string]float64{"cryptopunks": 41}}
	dispatcher := &fakeDispatcher{failOwners: map[int64]bool{1: true}}
	s := newTestScheduler(store, fetcher, dispatcher)

	s.RunCycle(context.Background())

	assert.Equal(t, alertstore.StateActive, store.List(1)[0].State, "owner 1 retries next cycle")
	assert.Equal(t, alertstore.StateFired, store.List(2)[0].State, "owner 2 delivered despite owner 1 failing")
}

func TestFetchFailureLeavesRuleUntouched(t *testing.T) {
	store := alertstore.NewStore(10, "")
	_, err := store.Add(1, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(40))
	require.NoError(t, err)
	before := store.List(1)[0]

	fetcher := &fakeFetcher{failAll: true}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(store, fetcher, dispatcher)

	s.RunCycle(context.Background())

	assert.Empty(t, allEvents(dispatcher))
	assert.Equal(t, before, store.List(1)[0], "rule state must not drift on missing data")
}

func TestBatchFetchesEachSlugOnce(t *testing.T) {
	store := alertstore.NewStore(10, "")
	for owner := int64(1); owner <= 3; owner++ {
		_, err := store.Add(owner, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(100))
		require.NoError(t, err)
	}

	fetcher := &fakeFetcher{floors: map[string]float64{"cryptopunks": 41}}
	s := newTestScheduler(store, fetcher, &fakeDispatcher{})

	s.RunCycle(context.Background())
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	store := alertstore.NewStore(10, "")
	_, err := store.Add(1, "cryptopunks", alertstore.DirectionAbove, decimal.NewFromInt(40))
	require.NoError(t, err)

	fetcher := &fakeFetcher{floors: map[string]float64{"cryptopunks": 41}, block: make(chan struct{})}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(store, fetcher, dispatcher)

	done := make(chan struct{})
	go func() {
		s.RunCycle(context.Background())
		close(done)
	}()

	// Wait for the first cycle to reach the fetch before ticking again.
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.RunCycle(context.Background())
	assert.Equal(t, int32(1), fetcher.calls.Load(), "second tick skipped while the first cycle is in flight")

	close(fetcher.block)
	<-done
}
