// Package worker runs periodic background jobs.
package worker

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/pkg/types"
)

// Consolidator is the batch job the worker drives.
type Consolidator interface {
	ConsolidateAllUsers(ctx context.Context, since time.Time, minEvents int) (map[string]types.ConsolidationResult, error)
}

// Schedule controls how often and over what window consolidation runs.
type Schedule struct {
	Interval  time.Duration
	Window    time.Duration
	MinEvents int
}

// ScheduleFromConfig converts the consolidation section of the configuration.
func ScheduleFromConfig(cfg config.ConsolidationConfig) Schedule {
	return Schedule{
		Interval:  time.Duration(cfg.IntervalMinutes) * time.Minute,
		Window:    time.Duration(cfg.WindowDays) * 24 * time.Hour,
		MinEvents: cfg.MinEvents,
	}
}

// Start launches a periodic consolidation worker. It blocks until ctx is done.
func Start(ctx context.Context, logger *log.Logger, sched Schedule, c Consolidator) {
	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = RunOnce(ctx, logger, sched, c, time.Now().UTC())
		}
	}
}

// RunOnce consolidates every user with enough feedback in the window ending at now.
func RunOnce(ctx context.Context, logger *log.Logger, sched Schedule, c Consolidator, now time.Time) (map[string]types.ConsolidationResult, error) {
	results, err := c.ConsolidateAllUsers(ctx, now.Add(-sched.Window), sched.MinEvents)
	if err != nil {
		logger.Warn("consolidation pass failed", "error", err)
		return nil, err
	}
	if len(results) > 0 {
		events := 0
		for _, r := range results {
			events += r.EventsProcessed
		}
		logger.Info("consolidation pass updated preferences", "users", len(results), "events", events)
	}
	return results, nil
}
