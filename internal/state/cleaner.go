package state

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner evicts sessions whose last update is older than the TTL. Redis
// expires keys on its own; the cleaner matters for the in-memory backend and
// keeps the users_by_state gauges from counting dead conversations.
type Cleaner struct {
	storage  Storage
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(storage Storage, log *slog.Logger, ttl, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		storage:  storage,
		log:      log,
		ttl:      ttl,
		interval: interval,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.storage == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("session cleaner stopped")
			return
		case <-ticker.C:
			if removed := c.sweep(ctx); removed > 0 {
				c.log.Info("evicted stale sessions", slog.Int("count", removed))
			}
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) int {
	sessions, err := c.storage.GetAllStates(ctx)
	if err != nil {
		c.log.Error("session sweep failed", slog.Any("error", err))
		return 0
	}

	cutoff := time.Now().UTC().Add(-c.ttl)
	removed := 0

	for _, session := range sessions {
		if session == nil || !session.UpdatedAt.Before(cutoff) {
			continue
		}

		if err := c.storage.ClearState(ctx, session.UserID); err != nil {
			c.log.Error("failed to evict session", slog.Int64("user_id", session.UserID), slog.Any("error", err))
			continue
		}
		removed++
	}

	return removed
}
