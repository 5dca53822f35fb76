package state

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner resets conversations that have been left unfinished for longer
// than ttl, so a user who abandoned the handle prompt is not surprised later.
type Cleaner struct {
	storage  Storage
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
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
		now:      time.Now,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.storage == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("state cleaner stopped", slog.Any("reason", ctx.Err()))
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup clears every non-idle state older than ttl and returns how many it cleared.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	states, err := c.storage.GetAllStates(ctx)
	if err != nil {
		c.log.Error("state cleaner scan failed", slog.Any("error", err))
		return 0
	}

	cleared := 0
	for _, userState := range states {
		if userState == nil || userState.CurrentState == StateIdle {
			continue
		}
		if c.now().Sub(userState.UpdatedAt) <= c.ttl {
			continue
		}

		if err := c.storage.ClearState(ctx, userState.UserID); err != nil {
			c.log.Error("state cleaner failed to clear state", slog.Int64("user_id", userState.UserID), slog.Any("error", err))
			continue
		}
		cleared++
	}

	if cleared > 0 {
		c.log.Info("stale conversations cleared", slog.Int("count", cleared))
	}
	return cleared
}
