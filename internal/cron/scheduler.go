// Package cron provides the work sweeper: a periodic scheduler that kicks
// the work loop when the sweep schedule is due and the task board still
// has pending work.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Board is the pending-work view the sweeper consults before firing.
type Board interface {
	HasPendingWork() bool
}

// Config holds the dependencies for the work sweeper.
type Config struct {
	Expr     string // 5-field cron expression
	Board    Board  // task board to inspect
	Fire     func(context.Context)
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Sweeper periodically checks whether the sweep schedule is due and the
// board has pending work, and fires the work loop callback when both hold.
// While the board is idle the schedule stays armed, so the first tick
// after new work appears fires immediately.
type Sweeper struct {
	schedule cronlib.Schedule
	board    Board
	fire     func(context.Context)
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	nextRun time.Time
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. The cron expression is validated here.
func NewSweeper(cfg Config) (*Sweeper, error) {
	schedule, err := cronParser.Parse(cfg.Expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cfg.Expr, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		schedule: schedule,
		board:    cfg.Board,
		fire:     cfg.Fire,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Start begins the sweep loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("work sweeper started", "interval", s.interval)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("work sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires the work loop when the schedule is due and the board has
// pending work. An idle board leaves the schedule armed.
func (s *Sweeper) tick(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	due := now.Equal(s.nextRun) || now.After(s.nextRun)
	if !due {
		s.mu.Unlock()
		return
	}
	if !s.board.HasPendingWork() {
		s.mu.Unlock()
		return
	}
	s.nextRun = s.schedule.Next(now)
	s.mu.Unlock()

	s.logger.Info("work sweep fired", "next_run_at", s.NextRun())
	s.fire(ctx)
}

// NextRun returns when the sweep will next be due.
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
