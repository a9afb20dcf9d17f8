package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts idle sessions. Sessions with an active run are
// never touched; everything else goes once it has been idle past the TTL.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewSweeper creates a sweeper for the store.
func NewSweeper(store *Store, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   slog.Default().With("component", "session.Sweeper"),
	}
}

// Start launches the background eviction loop.
func (sw *Sweeper) Start(ctx context.Context) {
	if sw.cancel != nil {
		return
	}
	ctx, sw.cancel = context.WithCancel(ctx)
	sw.done = make(chan struct{})

	go sw.run(ctx)

	sw.logger.Info("Session sweeper started",
		"ttl", sw.ttl, "interval", sw.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
	sw.logger.Info("Session sweeper stopped")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.store.EvictIdle(sw.ttl)
		}
	}
}
