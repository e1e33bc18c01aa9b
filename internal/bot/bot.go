package bot

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/calnotify/calnotify/config"
	"github.com/calnotify/calnotify/internal/service"
	"github.com/calnotify/calnotify/internal/storage"
)

type Bot struct {
	api       *tgbotapi.BotAPI
	cfg       *config.Config
	storage   *storage.Storage
	calendars *service.CalendarService
	refresh   *service.RefreshService
	server    *http.Server

	// chats that were asked for a calendar link and should treat the next
	// plain message as the URL
	mu          sync.Mutex
	awaitingURL map[int64]bool
}

func New(cfg *config.Config, store *storage.Storage, calendars *service.CalendarService, refresh *service.RefreshService) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("Authorized as @%s", api.Self.UserName)

	bot := &Bot{
		api:         api,
		cfg:         cfg,
		storage:     store,
		calendars:   calendars,
		refresh:     refresh,
		awaitingURL: make(map[int64]bool),
	}

	bot.setCommands()

	return bot, nil
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Register and link a calendar"},
		{Command: "calendar", Description: "Set the calendar link"},
		{Command: "refresh", Description: "Re-download the calendar now"},
		{Command: "today", Description: "Upcoming events"},
		{Command: "notify", Description: "Set notification lead time (minutes)"},
		{Command: "timezone", Description: "Set timezone offset (hours)"},
		{Command: "language", Description: "Set interface language"},
		{Command: "info", Description: "Show current settings"},
		{Command: "help", Description: "Command reference"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		log.Printf("Failed to set commands: %v", err)
	}
}

// Start runs Telegram long polling plus the HTTP API server until ctx is
// cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.server = &http.Server{
		Addr:    ":" + b.cfg.ServerPort,
		Handler: b.apiMux(),
	}

	go func() {
		log.Printf("Starting API server on :%s", b.cfg.ServerPort)
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) Stop(ctx context.Context) error {
	if b.server != nil {
		return b.server.Shutdown(ctx)
	}
	return nil
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setAwaitingURL(chatID int64, awaiting bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if awaiting {
		b.awaitingURL[chatID] = true
	} else {
		delete(b.awaitingURL, chatID)
	}
}

func (b *Bot) isAwaitingURL(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.awaitingURL[chatID]
}

// handlerTimeout bounds the work done for a single inbound update.
const handlerTimeout = 60 * time.Second

func (b *Bot) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, handlerTimeout)
}
