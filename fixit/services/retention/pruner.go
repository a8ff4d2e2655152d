// Package retention drops usage records older than a configured number of
// days. Records are kept forever unless it is enabled.
package retention

import (
	"context"
	"fixit/fixit/sources/usage"
	"fixit/fixit/utils/logging"
	"time"

	"go.uber.org/zap"
)

// Interval between prune passes.
const Interval = 24 * time.Hour

type Pruner struct {
	store usage.Pruner
	days  int
	now   usage.Clock
}

func NewPruner(store usage.Pruner, days int) *Pruner {
	return &Pruner{store: store, days: days, now: time.Now}
}

// Cutoff is the first day that is kept.
func (p *Pruner) Cutoff() time.Time {
	return p.now().UTC().AddDate(0, 0, -p.days)
}

// PruneOnce deletes every record before Cutoff.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	defer logging.LogDuration(ctx, "usage_prune")()

	cutoff := p.Cutoff()
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		logging.ErrorLogger.Error("prune usage records", zap.Error(err))
		return 0, err
	}
	logging.AppLogger.Info("pruned usage records",
		zap.Int64("deleted", n),
		zap.String("before", usage.Day(cutoff)),
	)
	return n, nil
}

// Run prunes immediately and then every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context, interval time.Duration) {
	if p.days <= 0 {
		return
	}
	_, _ = p.PruneOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = p.PruneOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}
