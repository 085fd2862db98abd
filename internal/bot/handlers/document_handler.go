package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	errs "github.com/edgard/chatdedup/internal/errors"
	"github.com/edgard/chatdedup/internal/ingest"
)

var errFileTooLarge = errors.New("file exceeds upload limit")

const (
	downloadAttempts = 3
	downloadBackoff  = 200 * time.Millisecond
)

// NewDocumentHandler returns a handler that ingests uploaded chat exports. The
// message caption, when present, is the since cutoff.
func NewDocumentHandler(deps HandlerDeps) bot.HandlerFunc {
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return documentHandler{deps: deps, client: client}.Handle
}

type documentHandler struct {
	deps   HandlerDeps
	client *http.Client
}

func (h documentHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !IsDocument(update) {
		return
	}
	msg := update.Message
	doc := msg.Document
	chatID := msg.Chat.ID
	messages := h.deps.Config.Messages
	log := h.deps.Logger.With("handler", "document", "chat_id", chatID, "file_name", doc.FileName)

	if !IsTextExport(doc) {
		log.InfoContext(ctx, "Rejecting non-text upload", "mime_type", doc.MimeType)
		reply(ctx, b, log, chatID, messages.NotTextFileMsg)
		return
	}
	maxBytes := h.deps.Config.Ingest.MaxUploadBytes
	if doc.FileSize > maxBytes {
		log.InfoContext(ctx, "Rejecting oversized upload", "file_size", doc.FileSize, "max_bytes", maxBytes)
		reply(ctx, b, log, chatID, messages.FileTooLargeMsg)
		return
	}

	since, err := ingest.ParseSince(msg.Caption)
	if err != nil {
		log.InfoContext(ctx, "Rejecting upload with invalid since caption", "caption", msg.Caption, "error", err)
		reply(ctx, b, log, chatID, messages.InvalidSinceMsg)
		return
	}

	reply(ctx, b, log, chatID, messages.IngestStartedMsg)

	data, err := h.downloadWithRetry(ctx, b, doc.FileID, maxBytes)
	if err != nil {
		log.ErrorContext(ctx, "Failed to download upload", "error", err)
		if errors.Is(err, errFileTooLarge) {
			reply(ctx, b, log, chatID, messages.FileTooLargeMsg)
		} else {
			reply(ctx, b, log, chatID, messages.IngestErrorMsg)
		}
		return
	}

	result, err := h.deps.Ingester.IngestReader(ctx, bytes.NewReader(data), "telegram:"+doc.FileName, since)
	if err != nil {
		log.ErrorContext(ctx, "Ingestion of upload failed", "error", err, "error_code", errs.Code(err))
		reply(ctx, b, log, chatID, messages.IngestErrorMsg)
		return
	}

	log.InfoContext(ctx, "Upload ingested", "run_id", result.RunID,
		"inserted", result.Inserted, "skipped", result.Skipped)
	reply(ctx, b, log, chatID, fmt.Sprintf(messages.IngestSummaryMsg,
		result.ConversationName, result.Parsed, result.Inserted, result.Skipped))
}

// downloadWithRetry retries transient download failures with backoff. An
// oversized file is final.
func (h documentHandler) downloadWithRetry(ctx context.Context, b *bot.Bot, fileID string, maxBytes int64) ([]byte, error) {
	log := h.deps.Logger.With("handler", "document", "file_id", fileID)

	var data []byte
	err := retry.Do(
		func() error {
			var err error
			data, err = h.download(ctx, b, fileID, maxBytes)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(downloadAttempts),
		retry.Delay(downloadBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, errFileTooLarge) }),
		retry.OnRetry(func(n uint, err error) {
			log.DebugContext(ctx, "Retrying download", "attempt", n+1, "max_attempts", downloadAttempts, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// download fetches a Telegram file, reading at most maxBytes.
func (h documentHandler) download(ctx context.Context, b *bot.Bot, fileID string, maxBytes int64) ([]byte, error) {
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errFileTooLarge
	}
	return data, nil
}

// IsTextExport reports whether a document looks like a plain-text chat export.
func IsTextExport(doc *models.Document) bool {
	if strings.EqualFold(filepath.Ext(doc.FileName), ".txt") {
		return true
	}
	return strings.HasPrefix(doc.MimeType, "text/plain")
}
