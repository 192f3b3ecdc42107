// Package scheduler drives the periodic fetch → evaluate → dispatch cycle for
// floor-price alerts, independent of user command traffic.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/dispatch"
	"nftfloor-telegram-bot/internal/evaluator"
	"nftfloor-telegram-bot/internal/market"
)

// SnapshotFetcher is the market-data capability the scheduler polls.
type SnapshotFetcher interface {
	GetSnapshots(ctx context.Context, slugs []string) (map[string]market.Snapshot, map[string]error)
}

// EventDispatcher delivers trigger events to their owners.
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []evaluator.TriggerEvent) []dispatch.Result
}

// Metrics counts cycle outcomes. Registration is the caller's concern.
type Metrics struct {
	CyclesRun           prometheus.Counter
	CyclesAborted       prometheus.Counter
	AlertsTriggered     prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
}

// Scheduler ticks on a fixed interval and runs one alert cycle per tick. A
// tick arriving while the previous cycle is still running is skipped, so load
// on the upstream API stays bounded no matter how slow a cycle gets.
type Scheduler struct {
	store        *alertstore.Store
	market       SnapshotFetcher
	dispatcher   EventDispatcher
	metrics      Metrics
	interval     time.Duration
	fetchTimeout time.Duration
	inFlight     atomic.Bool
}

func NewScheduler(store *alertstore.Store, m SnapshotFetcher, d EventDispatcher, metrics Metrics, interval, fetchTimeout time.Duration) *Scheduler {
	return &Scheduler{
		store:        store,
		market:       m,
		dispatcher:   d,
		metrics:      metrics,
		interval:     interval,
		fetchTimeout: fetchTimeout,
	}
}

// Start launches the poll loop. It returns immediately; the loop stops when
// ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				log.Debug("alert scheduler stopped")
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
	log.Infof("alert scheduler started, polling every %s", s.interval)
}

// RunCycle executes one fetch → evaluate → dispatch cycle. An unexpected
// failure aborts only this cycle; rule state is left untouched and the next
// tick proceeds normally.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Warn("previous alert cycle still running, skipping tick")
		return
	}
	defer s.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.metrics.CyclesAborted.Inc()
			log.Errorf("alert cycle aborted: %v", r)
		}
	}()

	rules := s.store.ActiveRules()
	if len(rules) == 0 {
		s.metrics.CyclesRun.Inc()
		return
	}

	slugs := make([]string, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, ok := seen[r.Slug]; ok {
			continue
		}
		seen[r.Slug] = struct{}{}
		slugs = append(slugs, r.Slug)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	snaps, failed := s.market.GetSnapshots(fetchCtx, slugs)
	cancel()
	if len(failed) > 0 {
		log.Warnf("market data unavailable for %d of %d collections this cycle", len(failed), len(slugs))
	}

	events, sides := evaluator.Evaluate(rules, snaps, time.Now().UTC())
	if len(events) > 0 {
		s.metrics.AlertsTriggered.Add(float64(len(events)))
		log.Debugf("trigger events this cycle: %s", spew.Sdump(events))
	}

	delivered := make(map[uuid.UUID]bool, len(events))
	triggered := make(map[uuid.UUID]bool, len(events))
	for _, ev := range events {
		triggered[ev.RuleID] = true
	}

	for _, res := range s.dispatcher.Dispatch(ctx, events) {
		if res.Err != nil {
			s.metrics.NotificationsFailed.Inc()
			continue
		}
		s.metrics.NotificationsSent.Inc()
		delivered[res.Event.RuleID] = true
		if err := s.store.MarkFired(res.Event.RuleID, res.Event.At); err != nil {
			log.Errorf("failed to mark rule %s fired: %v", res.Event.RuleID, err)
		}
	}

	// A triggered rule whose notification failed keeps its old baseline, so
	// the crossing is re-detected and re-sent next cycle.
	for _, su := range sides {
		if triggered[su.RuleID] && !delivered[su.RuleID] {
			continue
		}
		if err := s.store.ObserveSide(su.RuleID, su.Side, su.At); err != nil {
			log.Errorf("failed to record side for rule %s: %v", su.RuleID, err)
		}
	}

	s.metrics.CyclesRun.Inc()
}
