// Package scheduler triggers matching runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"coffeebot/internal/logger"
	"coffeebot/internal/models"
)

// RunFunc performs one matching run.
type RunFunc func(ctx context.Context) (models.RunResult, error)

// Scheduler wraps a cron runner with a single matching job.
type Scheduler struct {
	cron   *cron.Cron
	run    RunFunc
	logger *logger.Logger
}

// New schedules run on schedule, a standard five-field cron expression evaluated
// in loc. Runs that would overlap are skipped.
func New(schedule string, loc *time.Location, run RunFunc, log *logger.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{run: run, logger: log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := s.cron.AddFunc(schedule, s.trigger); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) trigger() {
	s.logger.Info("scheduled matching run starting")
	result, err := s.run(context.Background())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("scheduled matching run failed", "error", err)
		return
	}
	s.logger.Info("scheduled matching run finished", "run_id", result.RunID, "pairs", len(result.Pairs))
}

// Next reports when the job fires next. It is zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and returns a context that is done once a running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
