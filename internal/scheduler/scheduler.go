// Package scheduler runs the daily sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ldi/tend/internal/lifecycle"
)

// Sweeper is the part of the coordinator the scheduler drives.
type Sweeper interface {
	SweepAll(ctx context.Context, at time.Time) ([]*lifecycle.SweepResult, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

type Options struct {
	Location *time.Location
	Logger   *slog.Logger
	// Timeout bounds one scheduled run. Zero means an hour.
	Timeout time.Duration
}

// New parses spec as a standard five-field cron expression.
func New(spec string, sweeper Sweeper, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Hour
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sweeper: sweeper,
		logger:  opts.Logger,
		timeout: opts.Timeout,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sweep scheduler started", "next_run", s.Next())
}

// Stop prevents further runs, cancels a running sweep and waits for it.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.runs.Wait()
}

func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow sweeps every owner once, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) ([]*lifecycle.SweepResult, error) {
	s.runs.Add(1)
	defer s.runs.Done()
	return s.sweeper.SweepAll(ctx, time.Time{})
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	results, err := s.RunNow(ctx)
	nudges, resets := 0, 0
	for _, r := range results {
		nudges += len(r.NudgesRaised)
		resets += len(r.StreaksReset)
	}
	if err != nil {
		s.logger.Error("scheduled sweep finished with errors", "owners", len(results), "error", err)
		return
	}
	s.logger.Info("scheduled sweep finished", "owners", len(results), "nudges", nudges, "streaks_reset", resets)
}
