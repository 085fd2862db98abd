// Package logger provides structured logging for chatdedup.
// It uses Go's slog package with configurable levels and formats.
package logger

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewLoggerTo creates a slog Logger writing to w with the specified level and
// format, and installs it as the default logger.
func NewLoggerTo(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
	}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a configured level name to a slog level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything; used where a nil logger is passed.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Middleware creates a logging middleware for the Telegram bot.
// It logs information about incoming updates, including uploaded documents.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()

			logEntry := log.With(
				"update_id", update.ID,
				"start_time", startTime.Format(time.RFC3339),
			)

			updateType := "other"
			if msg := update.Message; msg != nil {
				updateType = "message"
				var userID int64
				if msg.From != nil {
					userID = msg.From.ID
				}
				logEntry = logEntry.With(
					"message_id", msg.ID,
					"chat_id", msg.Chat.ID,
					"user_id", userID,
					"text_preview", truncateString(msg.Text, 50),
				)
				if msg.Document != nil {
					updateType = "document"
					logEntry = logEntry.With(
						"file_name", msg.Document.FileName,
						"file_size", msg.Document.FileSize,
						"mime_type", msg.Document.MimeType,
					)
				}
			}
			logEntry = logEntry.With("update_type", updateType)

			logEntry.InfoContext(ctx, "Processing update")

			next(ctx, b, update)

			logEntry.InfoContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
