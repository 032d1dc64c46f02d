package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/sensor-data-aggregation/internal/logger"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// Runner executes a batch of retrieval jobs and persists the result.
type Runner interface {
	FetchAndStore(ctx context.Context, jobs []sensor.Job) (sensor.Run, error)
}

// RunObserver is told about every completed run.
type RunObserver interface {
	ObserveRun(run sensor.Run, err error)
}

// Options tunes the Scheduler.
type Options struct {
	Interval time.Duration
	// Lookback is the width of the window each run requests, ending now.
	Lookback time.Duration
	// Timeout bounds a whole run. Zero means Interval.
	Timeout  time.Duration
	Observer RunObserver
	Logger   *zap.SugaredLogger
}

// Scheduler periodically syncs the configured vendor jobs into the store.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	jobs      []sensor.Job
	opts      Options
	log       *zap.SugaredLogger
	now       func() time.Time
}

// New creates a new Scheduler. The ranges of jobs are replaced on every run.
func New(runner Runner, jobs []sensor.Job, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = opts.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		jobs:      jobs,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run fires immediately.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.log.Infow("no vendor jobs configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.opts.Interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Infow("scheduler started", "interval", s.opts.Interval, "jobs", len(s.jobs))
	return nil
}

// RunOnce syncs [now-Lookback, now) for every configured job.
func (s *Scheduler) RunOnce(ctx context.Context) (sensor.Run, error) {
	end := s.now().UTC().Truncate(time.Second)
	window := sensor.TimeRange{Start: end.Add(-s.opts.Lookback), End: end}

	jobs := make([]sensor.Job, len(s.jobs))
	for i, j := range s.jobs {
		jobs[i] = sensor.Job{Vendor: j.Vendor, Request: j.Request.WithRange(window)}
	}

	s.log.Infow("running vendor sync", logger.FieldStart, window.Start, logger.FieldEnd, window.End)
	run, err := s.runner.FetchAndStore(ctx, jobs)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveRun(run, err)
	}
	if err != nil {
		s.log.Errorw("vendor sync failed", logger.FieldRunID, run.ID, logger.FieldError, err)
		return run, err
	}
	s.log.Infow("completed vendor sync", logger.FieldRunID, run.ID, logger.FieldCount, len(run.Records))
	return run, nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
