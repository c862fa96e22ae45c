// Package scheduler runs the periodic jobs of the service: daily set
// generation, the daily verification sweep and battle registry reconciliation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"codebattle/internal/models"
	"codebattle/internal/service"
)

type Daily interface {
	Today(ctx context.Context) (*models.DailySet, error)
	VerifyAll(ctx context.Context) (service.SweepResult, error)
}

type Reconciler interface {
	Recover(ctx context.Context) (int, error)
}

type Config struct {
	VerifySchedule    string
	GenerateSchedule  string
	ReconcileSchedule string
	// InitialDelay is the wait before the verification run done at startup.
	// Zero disables it.
	InitialDelay time.Duration
	JobTimeout   time.Duration
	Location     *time.Location
}

func DefaultConfig() Config {
	return Config{
		VerifySchedule:    "0 */2 * * *",
		GenerateSchedule:  "1 0 * * *",
		ReconcileSchedule: "@every 5m",
		InitialDelay:      5 * time.Second,
		JobTimeout:        10 * time.Minute,
		Location:          time.UTC,
	}
}

type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	daily  Daily
	rooms  Reconciler
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, daily Daily, rooms Reconciler, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}

	s := &Scheduler{
		cfg:   cfg,
		daily: daily,
		rooms: rooms,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"verify", cfg.VerifySchedule, s.verify},
		{"generate", cfg.GenerateSchedule, s.generate},
		{"reconcile", cfg.ReconcileSchedule, s.reconcile},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, s.wrap(job.run)); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", job.name, job.schedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(run func(context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
		defer cancel()
		run(ctx)
	}
}

// Start begins firing jobs and schedules the startup verification run.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.cfg.InitialDelay <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.cfg.InitialDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.wrap(s.verify)()
		case <-s.ctx.Done():
		}
	}()
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) verify(ctx context.Context) {
	started := time.Now()
	res, err := s.daily.VerifyAll(ctx)
	switch {
	case errors.Is(err, service.ErrSweepRunning):
		s.logger.Debug("verification sweep already running")
	case err != nil:
		s.logger.Error("verification sweep failed", "error", err)
	default:
		s.logger.Info("verification sweep done",
			"sets", res.Sets, "users", res.Users, "recorded", res.Recorded,
			"took", time.Since(started))
	}
}

func (s *Scheduler) generate(ctx context.Context) {
	set, err := s.daily.Today(ctx)
	if err != nil {
		s.logger.Error("daily set generation failed", "error", err)
		return
	}
	s.logger.Info("daily set ready", "day", set.Day)
}

func (s *Scheduler) reconcile(ctx context.Context) {
	n, err := s.rooms.Recover(ctx)
	if err != nil {
		s.logger.Error("room reconciliation failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("rooms reconciled", "count", n)
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
