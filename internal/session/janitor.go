package session

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically sweeps the store so abandoned sessions cannot
// accumulate forever. Sessions it forces to ERROR are handed to onExpire so
// waiting notifier streams still receive their terminal event.
type Janitor struct {
	log      *slog.Logger
	store    *MemoryStore
	interval time.Duration
	onExpire func(Session)
}

// NewJanitor constructs a Janitor. onExpire may be nil.
func NewJanitor(log *slog.Logger, store *MemoryStore, interval time.Duration, onExpire func(Session)) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Janitor{
		log:      log,
		store:    store,
		interval: interval,
		onExpire: onExpire,
	}
}

// Run sweeps until ctx is cancelled. The ticker is released on return.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := j.store.Sweep(now.UTC())
			for _, sess := range expired {
				j.log.Info("session.expired", "session_id", sess.ID)
				if j.onExpire != nil {
					j.onExpire(sess)
				}
			}
		}
	}
}
