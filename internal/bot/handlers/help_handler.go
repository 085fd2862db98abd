package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return helpHandler{deps}.Handle
}

// helpHandler processes the /help command using injected dependencies.
type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "help")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Help handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	log.InfoContext(ctx, "Handling /help command", "chat_id", update.Message.Chat.ID, "user_id", update.Message.From.ID)
	reply(ctx, b, log, update.Message.Chat.ID, withBotName(h.deps, h.deps.Config.Messages.Help))
}

// withBotName substitutes @botname with the bot's username once it is known.
func withBotName(deps HandlerDeps, msg string) string {
	if info := deps.Config.Telegram.BotInfo; info != nil && info.Username != "" {
		return strings.ReplaceAll(msg, "@botname", "@"+info.Username)
	}
	return msg
}

// reply sends text to chatID, logging delivery failures.
func reply(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
		return
	}
	log.DebugContext(ctx, "Reply sent", "chat_id", chatID)
}
