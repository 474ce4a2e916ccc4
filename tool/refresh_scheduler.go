package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultRefreshRunTimeout = 30 * time.Second

var refreshScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseRefreshSchedule validates a five-field cron expression or a
// descriptor such as "@every 10m".
func ParseRefreshSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("tool: refresh schedule is required")
	}
	schedule, err := refreshScheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("tool: invalid refresh schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// RefreshSchedulerConfig controls periodic catalog refresh.
type RefreshSchedulerConfig struct {
	Schedule string
	Refresh  func(ctx context.Context) error
	Logger   *slog.Logger
	// RunTimeout bounds a single refresh run.
	RunTimeout time.Duration
}

// RefreshScheduler re-runs discovery on a cron schedule so tools added to
// the worker appear without a restart.
type RefreshScheduler struct {
	schedule   cron.Schedule
	expr       string
	refresh    func(ctx context.Context) error
	logger     *slog.Logger
	runTimeout time.Duration

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewRefreshScheduler validates cfg and returns a stopped scheduler.
func NewRefreshScheduler(cfg RefreshSchedulerConfig) (*RefreshScheduler, error) {
	if cfg.Refresh == nil {
		return nil, errors.New("tool: refresh scheduler needs a refresh func")
	}
	schedule, err := ParseRefreshSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRefreshRunTimeout
	}
	return &RefreshScheduler{
		schedule:   schedule,
		expr:       strings.TrimSpace(cfg.Schedule),
		refresh:    cfg.Refresh,
		logger:     cfg.Logger,
		runTimeout: cfg.RunTimeout,
	}, nil
}

// Next returns the first run time after now.
func (s *RefreshScheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Start begins running refreshes on the schedule. Calling Start on a
// running scheduler is a no-op.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithParser(refreshScheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		_ = s.RunOnce(runCtx)
	}))
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Debug("tool.refresh_scheduler.started", "schedule", s.expr, "next", s.schedule.Next(time.Now()))
}

// Stop halts the schedule and waits for a running refresh to finish or ctx
// to end.
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one refresh.
func (s *RefreshScheduler) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if err := s.refresh(runCtx); err != nil {
		s.logger.Warn("tool.refresh_scheduler.run_failed", "error", err)
		return err
	}
	return nil
}
