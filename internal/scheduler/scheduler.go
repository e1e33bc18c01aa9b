package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/calnotify/calnotify/config"
	"github.com/calnotify/calnotify/internal/cronjob"
	"github.com/calnotify/calnotify/internal/domain"
	"github.com/calnotify/calnotify/internal/service"
)

// MessageSender delivers a formatted text message to a chat.
type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// UserRepository is the slice of durable storage the notify job needs.
type UserRepository interface {
	ListUsersWithCalendar(ctx context.Context) ([]*domain.User, error)
}

// Scheduler owns the three background jobs: refresh calendars, recompute
// occurrences, notify users. The jobs run independently of each other; each
// one sleeps between cron fires and never overlaps with itself.
type Scheduler struct {
	cfg       *config.Config
	users     UserRepository
	calendars *service.CalendarService
	refresh   *service.RefreshService
	clock     cronjob.Clock
	sender    MessageSender
}

func New(cfg *config.Config, users UserRepository, calendars *service.CalendarService, refresh *service.RefreshService, clock cronjob.Clock) *Scheduler {
	if clock == nil {
		clock = cronjob.RealClock{}
	}
	return &Scheduler{
		cfg:       cfg,
		users:     users,
		calendars: calendars,
		refresh:   refresh,
		clock:     clock,
	}
}

func (s *Scheduler) SetSender(sender MessageSender) {
	s.sender = sender
}

// Start warms the cache with one forced refresh pass, then runs the cron
// loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.refresh.RefreshAll(ctx, service.RefreshCommand{Force: true}); err != nil {
		log.Printf("Startup calendar warm-up failed: %v", err)
	}

	jobs := []struct {
		name string
		spec string
		job  cronjob.Job
	}{
		{"refresh-calendars", s.cfg.RefreshCron, s.refreshJob},
		{"recompute-occurrences", s.cfg.RecomputeCron, s.recomputeJob},
		{"notify", s.cfg.NotifyCron, s.notifyJob},
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		runner, err := cronjob.New(j.name, j.spec, s.clock, j.job)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	log.Printf("Scheduler started (refresh: %s, recompute: %s, notify: %s)",
		s.cfg.RefreshCron, s.cfg.RecomputeCron, s.cfg.NotifyCron)

	wg.Wait()
	log.Println("Scheduler stopped")
	return nil
}

func (s *Scheduler) refreshJob(ctx context.Context) {
	log.Println("Calendar refresh initiated")
	errs, err := s.refresh.RefreshAll(ctx, service.RefreshCommand{})
	if err != nil {
		log.Printf("Calendar refresh failed: %v", err)
		return
	}
	log.Printf("Calendar refresh completed, %d failures", len(errs))
}

func (s *Scheduler) recomputeJob(context.Context) {
	log.Println("Occurrence recompute initiated")
	s.calendars.Recompute(nil)
}

// notifyJob is the dispatcher: per user it computes a personalized due
// window from the configured lead time, sends every due occurrence and marks
// it delivered.
func (s *Scheduler) notifyJob(ctx context.Context) {
	if s.sender == nil {
		return
	}

	users, err := s.users.ListUsersWithCalendar(ctx)
	if err != nil {
		log.Printf("Error loading users with calendar: %v", err)
		return
	}

	for _, user := range users {
		lead := user.NotifyMinutes
		if !domain.ValidNotifyMinutes(lead) {
			lead = domain.DefaultNotifyMinutes
		}
		to := s.clock.Now().UTC().Add(time.Duration(lead) * time.Minute)

		for _, occ := range s.calendars.DueForUser(user.ID, to) {
			text := service.FormatNotification(user, occ)
			if err := s.sender.SendMessage(user.ChatID, text); err != nil {
				log.Printf("Error sending notification to user %s: %v", user.ID, err)
				continue
			}
			s.calendars.MarkDelivered(user.ID, occ.SemanticHash)
		}
	}
}
