// Package bot runs the long-lived side of chatdedup: the Telegram upload
// listener and the task scheduler, under one lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/internal/database"
)

// Bot represents the service and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	store     database.Store
	tgBot     *tgbot.Bot
	scheduler *Scheduler
}

// NewBot creates the orchestrator. tgBot may be nil when the Telegram upload
// path is disabled; the scheduler always runs.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	tgBot *tgbot.Bot,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		store:     store,
		tgBot:     tgBot,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until ctx is cancelled or one of them
// fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting orchestrator...")

	if err := b.store.Ping(ctx); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	if b.tgBot != nil {
		g.Go(func() error {
			b.logger.Info("Starting Telegram bot listener...")
			b.tgBot.Start(gCtx)
			b.logger.Info("Telegram bot listener stopped.")

			if gCtx.Err() == nil {
				b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	} else {
		b.logger.Info("Telegram upload bot disabled")
	}

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
