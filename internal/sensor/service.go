package sensor

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/sensor-data-aggregation/internal/logger"
)

// Job pairs a vendor with the request to resolve against it.
type Job struct {
	Vendor  string           `json:"vendor"`
	Request RetrievalRequest `json:"request"`
}

// JobResult summarizes one job of a run. Err is nil on success. Device is
// set for jobs split out per device.
type JobResult struct {
	Vendor  string `json:"vendor"`
	Device  string `json:"device,omitempty"`
	Records int    `json:"records"`
	Calls   int    `json:"calls"`
	Splits  int    `json:"splits"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// Run is the outcome of Service.Retrieve.
type Run struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Jobs     []JobResult   `json:"jobs"`
	Records  []Observation `json:"-"`
}

// ServiceOptions tunes the Service.
type ServiceOptions struct {
	// Parallel runs independent jobs concurrently, at most Parallel at once.
	// Run.Jobs still follows job order.
	Parallel int
	Logger   *zap.SugaredLogger
}

// Service orchestrates retrievals across vendors and persists the
// reconciled result in a Store.
type Service struct {
	store      Store
	engine     *Engine
	reconciler *Reconciler
	adapters   map[string]Adapter
	opts       ServiceOptions
	log        *zap.SugaredLogger
}

// NewService creates a new Service.
func NewService(store Store, engine *Engine, reconciler *Reconciler, adapters []Adapter, opts ServiceOptions) *Service {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	if reconciler == nil {
		reconciler = NewReconciler(nil)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		store:      store,
		engine:     engine,
		reconciler: reconciler,
		adapters:   byName,
		opts:       opts,
		log:        log,
	}
}

// Vendors lists the configured vendor names in sorted order.
func (s *Service) Vendors() []string {
	names := make([]string, 0, len(s.adapters))
	for n := range s.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Adapter returns the adapter registered under name.
func (s *Service) Adapter(name string) (Adapter, bool) {
	a, ok := s.adapters[name]
	return a, ok
}

// Retrieve resolves every job and reconciles the successful ones. A failing
// job does not abort the others; its error is recorded in its JobResult.
// The returned error is non-nil only when there were no jobs or all failed.
func (s *Service) Retrieve(ctx context.Context, jobs []Job) (Run, error) {
	run := Run{ID: uuid.NewString(), Started: time.Now().UTC()}
	if len(jobs) == 0 {
		return run, ErrNoJobs
	}
	log := s.log.With(logger.FieldRunID, run.ID)
	jobs = s.expand(jobs)
	log.Infow("retrieval run started", "jobs", len(jobs))

	results := make([]Result, len(jobs))
	run.Jobs = make([]JobResult, len(jobs))

	do := func(i int) {
		job := jobs[i]
		jr := JobResult{Vendor: job.Vendor}
		if _, ok := s.adapters[job.Vendor].(PerDeviceAdapter); ok && len(job.Request.Filters.Devices) == 1 {
			jr.Device = job.Request.Filters.Devices[0]
		}
		res, err := s.retrieveOne(ctx, job)
		if err != nil {
			// Log and continue; other vendors keep their results.
			log.Warnw("vendor retrieval failed", logger.FieldVendor, job.Vendor, logger.FieldError, err)
			jr.Err = err
			jr.Error = err.Error()
		} else {
			results[i] = res
			jr.Records = len(res.Records)
			jr.Calls = res.Calls
			jr.Splits = res.Splits
		}
		run.Jobs[i] = jr
	}

	if s.opts.Parallel > 1 {
		var g errgroup.Group
		g.SetLimit(s.opts.Parallel)
		for i := range jobs {
			g.Go(func() error {
				do(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range jobs {
			do(i)
		}
	}

	byVendor := make(map[string][]Observation)
	var firstErr error
	failed := 0
	for i, jr := range run.Jobs {
		if jr.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = jr.Err
			}
			continue
		}
		byVendor[jr.Vendor] = append(byVendor[jr.Vendor], results[i].Records...)
	}
	run.Records = s.reconciler.Reconcile(byVendor)
	run.Duration = time.Since(run.Started)

	log.Infow("retrieval run finished",
		logger.FieldCount, len(run.Records),
		"failed", failed,
		"duration", run.Duration)

	if failed == len(jobs) {
		return run, errors.WithSecondaryError(ErrAllJobsFailed, firstErr)
	}
	return run, nil
}

// FetchAndStore runs Retrieve and saves the reconciled records.
func (s *Service) FetchAndStore(ctx context.Context, jobs []Job) (Run, error) {
	run, err := s.Retrieve(ctx, jobs)
	if len(run.Records) > 0 {
		s.store.Save(run.Records)
	}
	return run, err
}

// Range delegates to the underlying store.
func (s *Service) Range(station string, from, to time.Time) ([]Observation, error) {
	return s.store.Range(station, from, to)
}

// Latest delegates to the underlying store.
func (s *Service) Latest(station string) (Observation, error) {
	return s.store.Latest(station)
}

// Stations delegates to the underlying store.
func (s *Service) Stations() []string {
	return s.store.Stations()
}

// expand replaces each job against a PerDeviceAdapter with one job per
// device it addresses. Other jobs pass through unchanged.
func (s *Service) expand(jobs []Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		a, ok := s.adapters[job.Vendor].(PerDeviceAdapter)
		if !ok {
			out = append(out, job)
			continue
		}
		devices := a.Devices(job.Request)
		if len(devices) == 0 {
			out = append(out, job)
			continue
		}
		for _, d := range devices {
			req := job.Request
			req.Filters.Devices = []string{d}
			out = append(out, Job{Vendor: job.Vendor, Request: req})
		}
	}
	return out
}

func (s *Service) retrieveOne(ctx context.Context, job Job) (Result, error) {
	a, ok := s.adapters[job.Vendor]
	if !ok {
		return Result{}, errors.Newf("vendor %q is not configured", job.Vendor)
	}
	return s.engine.Retrieve(ctx, a, job.Request)
}
