package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calnotify/calnotify/config"
	"github.com/calnotify/calnotify/internal/bot"
	"github.com/calnotify/calnotify/internal/cronjob"
	"github.com/calnotify/calnotify/internal/scheduler"
	"github.com/calnotify/calnotify/internal/service"
	"github.com/calnotify/calnotify/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	clock := cronjob.RealClock{}
	calendarSvc := service.NewCalendarService(clock, cfg.Timezone)
	refreshSvc := service.NewRefreshService(store, calendarSvc, nil, clock)

	tgBot, err := bot.New(cfg, store, calendarSvc, refreshSvc)
	if err != nil {
		log.Fatalf("Failed to init bot: %v", err)
	}

	sched := scheduler.New(cfg, store, calendarSvc, refreshSvc, clock)
	sched.SetSender(tgBot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Printf("Scheduler error: %v", err)
		}
	}()

	go func() {
		if err := tgBot.Start(ctx); err != nil {
			log.Printf("Bot error: %v", err)
		}
	}()

	log.Println("Calendar notification bot started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := tgBot.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping bot: %v", err)
	}

	log.Println("Calendar notification bot stopped")
}
