package cronjob

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the work a Runner invokes on every fire. It must honor ctx.
type Job func(ctx context.Context)

// Runner fires a job on a cron schedule: compute the next occurrence, sleep
// until it (cancellable), run the job, repeat. A panicking job is logged and
// does not stop the loop; the next tick still happens.
type Runner struct {
	name     string
	schedule cron.Schedule
	clock    Clock
	job      Job
}

// New parses a standard five-field cron expression and returns a Runner
// ready to be started with Run.
func New(name, spec string, clock Clock, job Job) (*Runner, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q for %s: %w", spec, name, err)
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Runner{
		name:     name,
		schedule: schedule,
		clock:    clock,
		job:      job,
	}, nil
}

// Run blocks until ctx is cancelled or the schedule yields no further fire
// time. No two invocations of the same runner's job overlap; the next sleep
// starts only after the current job returns.
func (r *Runner) Run(ctx context.Context) {
	for {
		now := r.clock.Now()
		next := r.schedule.Next(now)
		if next.IsZero() {
			log.Printf("Cron %s: no next occurrence, stopping", r.name)
			return
		}

		timer := r.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		if ctx.Err() != nil {
			return
		}
		r.fire(ctx)
	}
}

func (r *Runner) fire(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Cron %s: job panic: %v", r.name, rec)
		}
	}()
	r.job(ctx)
}

// Next exposes the schedule's next fire time after t. Useful for logging and
// for tests that verify spec parsing.
func (r *Runner) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}
