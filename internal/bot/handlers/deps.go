package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/internal/database"
	"github.com/edgard/chatdedup/internal/ingest"
)

// Ingester is the part of the ingestion engine the upload handler uses.
type Ingester interface {
	IngestReader(ctx context.Context, r io.Reader, source string, since *time.Time) (*ingest.Result, error)
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Ingester Ingester
	// HTTPClient downloads uploaded files. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}
