// Package scheduler runs the periodic maintenance jobs: session expiry and the
// daily usage report.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	jobs   []string
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers j. Specs use the standard five-field cron syntax or
// descriptors such as "@every 1h".
func (s *Scheduler) Add(j Job) error {
	if j.Run == nil {
		return fmt.Errorf("job %q has no function", j.Name)
	}
	_, err := s.cron.AddFunc(j.Spec, func() {
		start := time.Now()
		if err := j.Run(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", j.Name, "error", err)
			return
		}
		s.logger.Debug("scheduled job finished", "job", j.Name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %q (%s): %w", j.Name, j.Spec, err)
	}
	s.jobs = append(s.jobs, j.Name)
	return nil
}

func (s *Scheduler) Start() {
	if len(s.jobs) == 0 {
		s.logger.Info("no jobs scheduled")
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.jobs)
}

// Stop waits for running jobs and cancels their context.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}
