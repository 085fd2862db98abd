package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatsHandler returns a handler for the /stats command.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	stats, err := h.deps.Store.Stats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load stats", "error", err)
		reply(ctx, b, log, chatID, h.deps.Config.Messages.StatsErrorMsg)
		return
	}

	reply(ctx, b, log, chatID, fmt.Sprintf(h.deps.Config.Messages.StatsMsg,
		stats.Conversations, stats.Participants, stats.Messages, stats.CanonicalMessages, stats.IngestRuns))
}
