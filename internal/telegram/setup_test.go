package telegram_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatdedup/internal/bot/handlers"
	"github.com/edgard/chatdedup/internal/logger"
	"github.com/edgard/chatdedup/internal/telegram"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Dedup","username":"dedup_bot"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewTelegramBot(t *testing.T) {
	t.Parallel()

	if _, err := telegram.NewTelegramBot("", logger.Discard()); err == nil {
		t.Error("NewTelegramBot(\"\") error = nil, want error")
	}

	srv := newServer(t)
	b, err := telegram.NewTelegramBot("123:test-token", nil, bot.WithServerURL(srv.URL), bot.WithSkipGetMe())
	if err != nil {
		t.Fatalf("NewTelegramBot() error = %v", err)
	}

	me, err := telegram.FetchBotInfo(context.Background(), b)
	if err != nil {
		t.Fatalf("FetchBotInfo() error = %v", err)
	}
	if me.ID != 42 || me.Username != "dedup_bot" {
		t.Errorf("FetchBotInfo() = %+v, want id 42 and username dedup_bot", me)
	}
}

func TestRegisterHandlers(t *testing.T) {
	t.Parallel()

	if err := telegram.RegisterHandlers(nil, logger.Discard(), nil); err == nil {
		t.Error("RegisterHandlers(nil bot) error = nil, want error")
	}

	srv := newServer(t)
	b, err := telegram.NewTelegramBot("123:test-token", logger.Discard(), bot.WithServerURL(srv.URL), bot.WithSkipGetMe())
	if err != nil {
		t.Fatalf("NewTelegramBot() error = %v", err)
	}

	var order []string
	mw := func(name string) bot.Middleware {
		return func(next bot.HandlerFunc) bot.HandlerFunc {
			return func(ctx context.Context, b *bot.Bot, update *models.Update) {
				order = append(order, name)
				next(ctx, b, update)
			}
		}
	}
	called := false
	registered := map[string]handlers.RegisteredHandler{
		"document": {
			MatchFunc:  handlers.IsDocument,
			Handler:    func(context.Context, *bot.Bot, *models.Update) { called = true },
			Middleware: []bot.Middleware{mw("outer"), mw("inner")},
		},
		"empty": {},
	}
	if err := telegram.RegisterHandlers(b, logger.Discard(), registered); err != nil {
		t.Fatalf("RegisterHandlers() error = %v", err)
	}

	b.ProcessUpdate(context.Background(), &models.Update{
		Message: &models.Message{
			Chat:     models.Chat{ID: 1},
			Document: &models.Document{FileID: "f", FileName: "export.txt"},
		},
	})

	if !called {
		t.Fatal("document handler was not called")
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("middleware order = %v, want [outer inner]", order)
	}
}
