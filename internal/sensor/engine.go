package sensor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/sensor-data-aggregation/internal/logger"
)

// DefaultMaxCalls bounds the number of vendor calls a single Retrieve may
// issue when EngineOptions.MaxCalls is zero.
const DefaultMaxCalls = 10000

// Call outcomes reported to a CallObserver.
const (
	OutcomeComplete  = "complete"
	OutcomeTruncated = "truncated"
	OutcomeError     = "error"
)

// CallObserver receives one notification per vendor call and per split.
type CallObserver interface {
	ObserveCall(vendor string, outcome string, records int, elapsed time.Duration)
	ObserveSplit(vendor string, strategy SplitStrategy)
}

// EngineOptions tunes the retrieval engine.
type EngineOptions struct {
	// MaxCalls caps vendor calls per Retrieve. Negative disables the cap.
	MaxCalls int

	// Concurrency is the number of bisect branches allowed to run in
	// parallel. Values <= 1 resolve everything sequentially.
	Concurrency int

	Logger   *zap.SugaredLogger
	Observer CallObserver
}

// Engine resolves a RetrievalRequest against an Adapter into a complete,
// ordered, duplicate-free record sequence regardless of per-call caps.
type Engine struct {
	opts EngineOptions
	log  *zap.SugaredLogger
}

// Result is the outcome of a successful Retrieve.
type Result struct {
	Records []Observation
	Calls   int
	Splits  int
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.MaxCalls == 0 {
		opts.MaxCalls = DefaultMaxCalls
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{opts: opts, log: log}
}

// Retrieve fetches every record in req.Range from a, splitting the range
// whenever the vendor reports truncation.
func (e *Engine) Retrieve(ctx context.Context, a Adapter, req RetrievalRequest) (Result, error) {
	if req.Range.End.Before(req.Range.Start) {
		return Result{}, errors.Wrapf(ErrInvalidRange, "%s", req.Range)
	}

	r := &run{
		engine:  e,
		adapter: a,
		vendor:  a.Name(),
		cap:     a.Capability(),
		log:     e.log.With(logger.FieldVendor, a.Name()),
	}
	if e.opts.Concurrency > 1 {
		r.slots = make(chan struct{}, e.opts.Concurrency-1)
	}

	var fragments []Fragment
	for _, window := range chunkRange(req.Range, r.cap.MaxSpan) {
		records, err := r.resolve(ctx, req.WithRange(window))
		if err != nil {
			return Result{}, err
		}
		fragments = append(fragments, Fragment{Records: records})
	}

	res := Result{
		Records: Merge(fragments...),
		Calls:   int(r.calls.Load()),
		Splits:  int(r.splits.Load()),
	}
	r.log.Infow("retrieval complete",
		logger.FieldRange, req.Range.String(),
		logger.FieldCount, len(res.Records),
		logger.FieldCalls, res.Calls,
		logger.FieldSplits, res.Splits)
	return res, nil
}

// run carries the state of one Retrieve. Branches share only the counters
// and the slot semaphore; each writes its own records.
type run struct {
	engine  *Engine
	adapter Adapter
	vendor  string
	cap     Capability
	log     *zap.SugaredLogger

	calls  atomic.Int64
	splits atomic.Int64
	slots  chan struct{}
}

// resolve returns the records of req.Range. Advance continuations are
// followed iteratively; bisection recurses.
func (r *run) resolve(ctx context.Context, req RetrievalRequest) ([]Observation, error) {
	var out []Observation
	cur := req

	for {
		records, truncated, err := r.fetch(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !truncated {
			return append(out, records...), nil
		}

		if r.cap.Strategy == AdvanceFromLastTimestamp && len(records) > 0 {
			next := latest(records).Truncate(r.cap.resolution()).Add(r.cap.resolution())
			if !next.After(cur.Range.Start) {
				return nil, &UnsplittableRangeError{Vendor: r.vendor, Range: cur.Range}
			}
			out = append(out, records...)
			if !next.Before(cur.Range.End) {
				return out, nil
			}
			r.split(AdvanceFromLastTimestamp, cur.Range)
			cur = cur.WithRange(TimeRange{Start: next, End: cur.Range.End})
			continue
		}

		halves, err := r.bisect(ctx, cur)
		if err != nil {
			return nil, err
		}
		return append(out, halves...), nil
	}
}

// fetch issues one vendor call and reports the in-range records and whether
// the vendor's cap was hit.
func (r *run) fetch(ctx context.Context, req RetrievalRequest) ([]Observation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	n := r.calls.Add(1)
	if limit := r.engine.opts.MaxCalls; limit > 0 && n > int64(limit) {
		return nil, false, errors.WithHint(
			errors.Wrapf(ErrCallBudgetExceeded, "%s: more than %d calls", r.vendor, limit),
			"narrow the requested range or raise MAX_CALLS")
	}

	started := time.Now()
	frag, err := r.adapter.Fetch(ctx, req)
	elapsed := time.Since(started)

	truncated := frag.Truncated
	if err != nil {
		if !errors.Is(err, ErrTruncated) {
			r.observeCall(OutcomeError, 0, elapsed)
			return nil, false, err
		}
		truncated = true
		frag.Records = nil
	}
	if r.cap.Signal == CapRecordCount && r.cap.Threshold > 0 && len(frag.Records) >= r.cap.Threshold {
		truncated = true
	}

	outcome := OutcomeComplete
	if truncated {
		outcome = OutcomeTruncated
	}
	r.observeCall(outcome, len(frag.Records), elapsed)
	r.log.Debugw("vendor call",
		logger.FieldRange, req.Range.String(),
		logger.FieldCount, len(frag.Records),
		"truncated", truncated,
		"elapsed", elapsed)

	return clip(frag.Records, req.Range), truncated, nil
}

// bisect resolves both halves of req.Range and concatenates left then right.
func (r *run) bisect(ctx context.Context, req RetrievalRequest) ([]Observation, error) {
	mid, ok := midpoint(req.Range, r.cap.resolution())
	if !ok {
		return nil, errors.WithHint(
			&UnsplittableRangeError{Vendor: r.vendor, Range: req.Range},
			"the vendor cap is hit inside the smallest representable range; check the cap threshold")
	}
	r.split(Bisect, req.Range)

	left := req.WithRange(TimeRange{Start: req.Range.Start, End: mid})
	right := req.WithRange(TimeRange{Start: mid, End: req.Range.End})

	if !r.acquire() {
		l, err := r.resolve(ctx, left)
		if err != nil {
			return nil, err
		}
		rr, err := r.resolve(ctx, right)
		if err != nil {
			return nil, err
		}
		return append(l, rr...), nil
	}

	var l, rr []Observation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer r.release()
		var err error
		l, err = r.resolve(gctx, left)
		return err
	})
	g.Go(func() error {
		var err error
		rr, err = r.resolve(gctx, right)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(l, rr...), nil
}

func (r *run) acquire() bool {
	if r.slots == nil {
		return false
	}
	select {
	case r.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *run) release() {
	<-r.slots
}

func (r *run) split(strategy SplitStrategy, tr TimeRange) {
	r.splits.Add(1)
	if obs := r.engine.opts.Observer; obs != nil {
		obs.ObserveSplit(r.vendor, strategy)
	}
	r.log.Infow("cap reached, splitting range", logger.FieldStrategy, strategy.String(), logger.FieldRange, tr.String())
}

func (r *run) observeCall(outcome string, n int, elapsed time.Duration) {
	if obs := r.engine.opts.Observer; obs != nil {
		obs.ObserveCall(r.vendor, outcome, n, elapsed)
	}
}

// midpoint returns Start + Width/2 rounded down to a multiple of res, or the
// first multiple of res after Start when rounding lands on or before Start.
// ok is false when no multiple of res lies strictly inside the range.
func midpoint(tr TimeRange, res time.Duration) (time.Time, bool) {
	mid := tr.Start.Add(tr.Width() / 2).Truncate(res)
	if !mid.After(tr.Start) {
		mid = tr.Start.Truncate(res).Add(res)
	}
	return mid, mid.Before(tr.End)
}

// chunkRange cuts tr into consecutive windows no wider than span. An empty
// range yields no windows.
func chunkRange(tr TimeRange, span time.Duration) []TimeRange {
	if tr.Empty() {
		return nil
	}
	if span <= 0 || tr.Width() <= span {
		return []TimeRange{tr}
	}
	var out []TimeRange
	for start := tr.Start; start.Before(tr.End); start = start.Add(span) {
		end := start.Add(span)
		if end.After(tr.End) {
			end = tr.End
		}
		out = append(out, TimeRange{Start: start, End: end})
	}
	return out
}

func clip(records []Observation, tr TimeRange) []Observation {
	out := make([]Observation, 0, len(records))
	for _, rec := range records {
		if tr.Contains(rec.Timestamp) {
			out = append(out, rec)
		}
	}
	return out
}

func latest(records []Observation) time.Time {
	var newest time.Time
	for i, rec := range records {
		if i == 0 || rec.Timestamp.After(newest) {
			newest = rec.Timestamp
		}
	}
	return newest
}
