package worker

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired rows and reports how many were deleted.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Pruner periodically deletes expired snapshots from stores that do not
// expire keys on their own.
type Pruner struct {
	store    Purger
	interval time.Duration
	logger   *slog.Logger
}

// NewPruner creates a new Pruner worker. ttl is the snapshot TTL the store is
// written with.
func NewPruner(store Purger, ttl time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	// 10% of the TTL, clamped to [1m, 1h]
	interval := min(ttl/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)
	return &Pruner{store: store, interval: interval, logger: logger}
}

// Interval returns the time between prune runs.
func (p *Pruner) Interval() time.Duration {
	return p.interval
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs a single purge.
func (p *Pruner) Prune(ctx context.Context) {
	n, err := p.store.PurgeExpired(ctx)
	if err != nil {
		p.logger.Error("Failed to prune expired snapshots", "error", err)
		return
	}
	if n > 0 {
		p.logger.Debug("Pruned expired snapshots", "count", n)
	}
}
