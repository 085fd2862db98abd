// Package handlers contains Telegram bot command and upload handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly creates a middleware that checks if the message sender is the configured admin user.
// If not, it sends a "Not Authorized" message and stops processing by returning early.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if update.Message == nil {
				return
			}

			chatID := update.Message.Chat.ID
			var userID int64
			if update.Message.From != nil {
				userID = update.Message.From.ID
			}

			if userID == 0 || userID != deps.Config.Telegram.AdminUserID {
				log := deps.Logger.With("middleware", "AdminOnly")
				log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID, "chat_id", chatID)

				_, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.ErrorUnauthorizedMsg,
				})
				if err != nil {
					log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
				}
				return
			}

			next(ctx, bot, update)
		}
	}
}
