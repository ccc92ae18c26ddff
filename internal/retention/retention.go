// Package retention is local housekeeping for the message cache: on a cron
// schedule it removes messages older than the configured period from the
// message store, emitting ordinary non-animated remove operations so a
// subscribed renderer stays consistent.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/chat"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
)

const defaultCron = "0 2 * * *"

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, store *chat.Store, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if cfg.Period.Duration() <= 0 {
		return nil, fmt.Errorf("retention enabled without a period")
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Duration().String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, store, cronExpr, cfg.Period.Duration())
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until then.
func runScheduler(ctx context.Context, store *chat.Store, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}

		if n, err := RunOnce(store, period); err != nil {
			logger.Error("retention_run_error", "error", err)
		} else if n > 0 {
			logger.Info("retention_purged", "count", n)
		}
	}
}

// RunOnce removes every message whose effective timestamp is older than
// period, and reports how many were removed. Messages with no timestamp at
// all are kept; they are still settling.
func RunOnce(store *chat.Store, period time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-period).UnixMilli()
	view, err := store.Read()
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, m := range view {
		key := m.SortKey()
		if key == 0 || key >= cutoff {
			continue
		}
		if err := store.Remove(m, false); err != nil {
			return purged, err
		}
		telemetry.RetentionPurgedTotal.Inc()
		purged++
	}
	return purged, nil
}
