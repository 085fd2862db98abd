// Package tasks implements the scheduled jobs of chatdedup: ingesting exports
// dropped into an inbox directory and periodic database maintenance.
package tasks

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/internal/database"
	"github.com/edgard/chatdedup/internal/ingest"
)

// Ingester is the part of the ingestion engine the tasks use.
type Ingester interface {
	IngestReader(ctx context.Context, r io.Reader, source string, since *time.Time) (*ingest.Result, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Ingester Ingester
	Config   *config.Config
}
