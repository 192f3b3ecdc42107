// Package digest delivers a daily market summary to users who opted in,
// each at their chosen UTC time.
package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"nftfloor-telegram-bot/internal/commands"
	"nftfloor-telegram-bot/internal/database"
	"nftfloor-telegram-bot/internal/dispatch"
	"nftfloor-telegram-bot/lib/helpers"
	"nftfloor-telegram-bot/lib/translation"
)

// Scheduler checks once a minute whether any user's delivery time has come
// up. Deliveries are tracked per user per day so a slow cycle cannot deliver
// the same digest twice.
type Scheduler struct {
	commands   *commands.Handler
	dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	delivered map[string]struct{}
}

func NewScheduler(cmds *commands.Handler, d *dispatch.Dispatcher) *Scheduler {
	return &Scheduler{
		commands:   cmds,
		dispatcher: d,
		delivered:  make(map[string]struct{}),
	}
}

// Start launches the delivery loop. It returns immediately; the loop stops
// when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Debug("digest scheduler stopped")
				return
			case <-ticker.C:
				s.checkAndDeliver(ctx, time.Now().UTC())
			}
		}
	}()
	log.Info("digest scheduler started")
}

func (s *Scheduler) checkAndDeliver(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("digest delivery aborted: %v", r)
		}
	}()

	if now.Hour() == 0 && now.Minute() == 0 {
		s.mu.Lock()
		s.delivered = make(map[string]struct{})
		s.mu.Unlock()
		log.Debug("reset daily digest delivery tracking")
	}

	users, err := database.GetDigestUsers()
	if err != nil {
		log.Errorf("failed to load digest users: %v", err)
		return
	}

	currentTime := now.Format("15:04")
	for _, u := range users {
		if u.Time != currentTime {
			continue
		}

		key := fmt.Sprintf("%d_%s", u.ChatID, now.Format("2006-01-02"))
		s.mu.Lock()
		_, done := s.delivered[key]
		if !done {
			s.delivered[key] = struct{}{}
		}
		s.mu.Unlock()
		if done {
			continue
		}

		if err := s.deliver(ctx, u.ChatID); err != nil {
			log.Errorf("failed to deliver digest to %d: %v", u.ChatID, err)
		}
	}
}

func (s *Scheduler) deliver(ctx context.Context, chatID int64) error {
	body, err := s.commands.CommandRankings(ctx, 10)
	if err != nil {
		return err
	}

	lang := database.GetUserLanguage(chatID, translation.GetLanguage())
	text := fmt.Sprintf(
		"☀️ *%s*\n\n%s",
		helpers.EscapeMarkdownV2(translation.TranslateLang(lang, "Your Daily NFT Digest")),
		body,
	)
	return s.dispatcher.SendPaced(ctx, chatID, text)
}
