// Package schedule runs the pipeline on a cron cadence. One schedule, one
// runner; the orchestrator's own single-run and daily-budget gates decide
// whether a fire actually starts anything.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autodev/internal/logging"
	"autodev/internal/orchestrator"
	"autodev/internal/types"
)

// Runner starts one improvement run.
type Runner interface {
	Start(ctx context.Context) (*types.Run, error)
}

// Scheduler fires the runner on a five-field cron expression.
type Scheduler struct {
	runner Runner

	mu       sync.Mutex
	schedule cron.Schedule
	expr     string
	lastFire time.Time
	stop     chan struct{}
	done     chan struct{}
}

// Parse validates a five-field cron expression (minute hour dom month dow).
func Parse(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// New creates a scheduler for the given expression.
func New(runner Runner, expr string) (*Scheduler, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		expr:     expr,
	}, nil
}

// Expression returns the active cron expression.
func (s *Scheduler) Expression() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// NextRun returns the next fire time.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.Next(time.Now())
}

// LastFire returns when the scheduler last fired, zero if never.
func (s *Scheduler) LastFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFire
}

// Start begins the scheduling loop. It blocks until Stop is called or ctx
// is cancelled. A fire that lands while a run is active, or past the daily
// budget, is skipped and logged, never queued.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	defer func() {
		close(done)
		s.mu.Lock()
		if s.stop == stop {
			s.stop, s.done = nil, nil
		}
		s.mu.Unlock()
	}()
	logging.Schedule("scheduler started: %s, next run %s", s.Expression(), s.NextRun().Format(time.RFC3339))

	for {
		next := s.NextRun()
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.done = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Reload swaps in a new cron expression without restarting the loop. The
// new expression takes effect after the current timer fires or the loop is
// restarted.
func (s *Scheduler) Reload(expr string) error {
	schedule, err := Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	s.schedule = schedule
	s.expr = expr
	s.mu.Unlock()
	logging.Schedule("schedule reloaded: %s", expr)
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	s.lastFire = time.Now()
	s.mu.Unlock()

	logging.Schedule("scheduled run firing")
	run, err := s.runner.Start(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrRunActive):
		logging.Schedule("scheduled run skipped: a run is already active")
	case errors.Is(err, orchestrator.ErrDailyBudget):
		logging.Schedule("scheduled run skipped: daily budget reached")
	case err != nil:
		logging.Schedule("scheduled run failed to start: %v", err)
	default:
		logging.Schedule("scheduled run %s finished: %s", run.ID, run.Status)
	}
}
