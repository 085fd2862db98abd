package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask vacuums the database and logs the table sizes the
// dedup store has reached. A stats failure after successful maintenance is
// only logged.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")
	driver := ""
	if deps.Config != nil {
		driver = deps.Config.Database.Driver
	}

	return func(ctx context.Context) error {
		started := time.Now()
		log.InfoContext(ctx, "Running database maintenance", "driver", driver)

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Database maintenance failed", "driver", driver, "error", err, "duration", time.Since(started))
			return fmt.Errorf("sql maintenance on %s failed: %w", driver, err)
		}

		stats, err := deps.Store.Stats(ctx)
		if err != nil {
			log.WarnContext(ctx, "Database maintenance done, but stats are unavailable", "error", err, "duration", time.Since(started))
			return nil
		}
		log.InfoContext(ctx, "Database maintenance done",
			"duration", time.Since(started),
			"messages", stats.Messages,
			"canonical_messages", stats.CanonicalMessages,
			"conversations", stats.Conversations,
			"ingest_runs", stats.IngestRuns)
		return nil
	}
}
