package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/waterpolo-stats/internal/config"
)

// Advancer moves the clocks of running games
type Advancer interface {
	AdvanceAll(ctx context.Context, now time.Time) int
}

// Saver merges changed games into the durable store
type Saver interface {
	SaveDirty(ctx context.Context) (int, error)
}

// NewClockDriver feeds the wall time of every tick to the running games.
// The engine measures elapsed time itself, so late ticks do not drift.
func NewClockDriver(games Advancer, cfg *config.ClockConfig, logger *slog.Logger) *Worker {
	return New("clock", cfg.TickInterval, func(ctx context.Context, now time.Time) {
		games.AdvanceAll(ctx, now)
	}, logger)
}

// NewAutosaver merges dirty games on every interval
func NewAutosaver(games Saver, cfg *config.AutosaveConfig, logger *slog.Logger) *Worker {
	w := New("autosave", cfg.Interval, nil, logger)
	w.task = func(ctx context.Context, _ time.Time) {
		start := time.Now()
		saved, err := games.SaveDirty(ctx)
		if err != nil {
			w.logger.Error("autosave failed", "saved", saved, "error", err)
			return
		}
		if saved > 0 {
			w.logger.Info("autosave completed", "saved", saved, "duration", time.Since(start))
		}
	}
	return w
}
