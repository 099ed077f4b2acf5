package persist

import (
	"context"
	"log/slog"
	"time"
)

// Expirer drops an in-memory session that has gone stale.
type Expirer interface {
	ExpireStale(maxAge time.Duration) bool
}

// Sweeper periodically removes sessions older than MaxAge, both from
// storage and from memory.
type Sweeper struct {
	Snap     *Snapshotter
	Memory   Expirer // optional
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	w.sweep(ctx, log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, log)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context, log *slog.Logger) {
	if w.Memory != nil && w.Memory.ExpireStale(w.MaxAge) {
		log.Info("expired in-memory session", "max_age", w.MaxAge)
	}
	removed, err := w.Snap.Sweep(ctx, w.MaxAge)
	if err != nil {
		log.Warn("sweep failed", "error", err)
		return
	}
	if removed {
		log.Info("purged stored session", "max_age", w.MaxAge)
	}
}
