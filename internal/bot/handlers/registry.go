package handlers

import (
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// RegisteredHandler represents a handler with its routing and middleware.
// Handlers with a MatchFunc are routed by it; the others by HandlerType,
// Pattern and MatchType.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	MatchFunc   tgbot.MatchFunc
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands initializes and returns a map of all available bot handlers.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["/start"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/help"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "help",
		Handler:     NewHelpHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}

	handlers["/stats"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "stats",
		Handler:     NewStatsHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}
	handlers["document"] = RegisteredHandler{
		MatchFunc:  IsDocument,
		Handler:    NewDocumentHandler(deps),
		Middleware: adminMiddleware,
	}

	return handlers
}

// IsDocument matches messages carrying an uploaded file.
func IsDocument(update *models.Update) bool {
	return update.Message != nil && update.Message.Document != nil
}
