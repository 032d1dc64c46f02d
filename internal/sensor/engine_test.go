package sensor

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/i474232898/sensor-data-aggregation/internal/logger"
)

var t0 = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

// datasetAdapter serves a fixed, sorted dataset. It caps pages at limit
// records and refuses ranges wider than maxWidth with ErrTruncated.
type datasetAdapter struct {
	name         string
	capability   Capability
	data         []Observation
	limit        int
	maxWidth     time.Duration
	inclusiveEnd bool
	failOnCall   int
	failErr      error

	mu    sync.Mutex
	calls []TimeRange
	maxes []time.Time
}

func (d *datasetAdapter) Name() string           { return d.name }
func (d *datasetAdapter) Capability() Capability { return d.capability }

func (d *datasetAdapter) Fetch(ctx context.Context, req RetrievalRequest) (Fragment, error) {
	d.mu.Lock()
	d.calls = append(d.calls, req.Range)
	n := len(d.calls)
	d.mu.Unlock()

	if d.failErr != nil && n == d.failOnCall {
		return Fragment{}, d.failErr
	}
	if d.maxWidth > 0 && req.Range.Width() > d.maxWidth {
		return Fragment{}, errors.Wrap(ErrTruncated, "payload too large")
	}

	i := sort.Search(len(d.data), func(i int) bool {
		return !d.data[i].Timestamp.Before(req.Range.Start)
	})
	var recs []Observation
	for ; i < len(d.data); i++ {
		ts := d.data[i].Timestamp
		if ts.After(req.Range.End) || (!d.inclusiveEnd && ts.Equal(req.Range.End)) {
			break
		}
		if d.limit > 0 && len(recs) == d.limit {
			break
		}
		recs = append(recs, d.data[i])
	}

	d.mu.Lock()
	if len(recs) > 0 {
		d.maxes = append(d.maxes, recs[len(recs)-1].Timestamp)
	} else {
		d.maxes = append(d.maxes, time.Time{})
	}
	d.mu.Unlock()

	return Fragment{Records: recs, Truncated: d.limit > 0 && len(recs) == d.limit}, nil
}

func series(start time.Time, n int, step time.Duration, device string) []Observation {
	out := make([]Observation, n)
	for i := range out {
		out[i] = Observation{
			Timestamp: start.Add(time.Duration(i) * step),
			Vendor:    "synthetic",
			Device:    device,
			Station:   device,
			Sensor:    "temp",
			Value:     float64(i),
		}
	}
	return out
}

func requestFor(start, end time.Time) RetrievalRequest {
	return RetrievalRequest{Range: TimeRange{Start: start, End: end}}
}

func assertSortedUnique(t *testing.T, recs []Observation) {
	t.Helper()
	seen := make(map[recordKey]bool, len(recs))
	for i, r := range recs {
		if i > 0 {
			require.False(t, r.Timestamp.Before(recs[i-1].Timestamp), "record %d out of order", i)
		}
		require.False(t, seen[keyOf(r)], "record %d duplicated", i)
		seen[keyOf(r)] = true
	}
}

func TestEngineAdvanceThreeCalls(t *testing.T) {
	const n = 250001
	a := &datasetAdapter{
		name:       "hobolink",
		capability: Capability{Signal: CapRecordCount, Threshold: 100000, Strategy: AdvanceFromLastTimestamp},
		data:       series(t0, n, time.Second, "logger-1"),
		limit:      100000,
	}
	e := NewEngine(EngineOptions{Logger: zaptest.NewLogger(t).Sugar()})

	res, err := e.Retrieve(context.Background(), a, requestFor(t0, t0.Add(n*time.Second)))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, 2, res.Splits)
	require.Len(t, res.Records, n)
	assertSortedUnique(t, res.Records)
	assert.Equal(t, t0, res.Records[0].Timestamp)
	assert.Equal(t, t0.Add((n-1)*time.Second), res.Records[n-1].Timestamp)
}

func TestEngineAdvanceStartsAfterPreviousMax(t *testing.T) {
	a := &datasetAdapter{
		name:       "hobolink",
		capability: Capability{Signal: CapRecordCount, Threshold: 7, Strategy: AdvanceFromLastTimestamp},
		data:       series(t0, 50, 1500*time.Millisecond, "logger-1"),
		limit:      7,
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Records, 50)

	for i := 1; i < len(a.calls); i++ {
		assert.True(t, a.calls[i].Start.After(a.maxes[i-1]),
			"call %d starts at %s, previous max %s", i, a.calls[i].Start, a.maxes[i-1])
	}
}

func TestEngineAdvanceInclusiveEndBoundary(t *testing.T) {
	// The vendor treats end as inclusive; the record at end must not leak.
	a := &datasetAdapter{
		name:         "hobolink",
		capability:   Capability{Signal: CapRecordCount, Threshold: 4, Strategy: AdvanceFromLastTimestamp},
		data:         series(t0, 20, time.Second, "logger-1"),
		limit:        4,
		inclusiveEnd: true,
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(10*time.Second)))
	require.NoError(t, err)
	require.Len(t, res.Records, 10)
	assert.Equal(t, t0.Add(9*time.Second), res.Records[9].Timestamp)
}

func TestEngineBisectSplitTreeOrder(t *testing.T) {
	// One record per second; refuses anything wider than 100s.
	a := &datasetAdapter{
		name:       "tellus",
		capability: Capability{Signal: CapHTTPStatus, Status: 413, Strategy: Bisect},
		data:       series(t0, 350, time.Second, "dev-1"),
		maxWidth:   100 * time.Second,
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(350*time.Second)))
	require.NoError(t, err)

	var succeeded []TimeRange
	for _, c := range a.calls {
		if c.Width() <= 100*time.Second {
			succeeded = append(succeeded, c)
		}
	}
	want := []TimeRange{
		{Start: t0, End: t0.Add(87 * time.Second)},
		{Start: t0.Add(87 * time.Second), End: t0.Add(175 * time.Second)},
		{Start: t0.Add(175 * time.Second), End: t0.Add(262 * time.Second)},
		{Start: t0.Add(262 * time.Second), End: t0.Add(350 * time.Second)},
	}
	assert.Equal(t, want, succeeded)
	assert.Equal(t, 7, res.Calls)
	assert.Equal(t, 3, res.Splits)
	require.Len(t, res.Records, 350)
	assertSortedUnique(t, res.Records)
}

func TestEngineBisectTerminates(t *testing.T) {
	a := &datasetAdapter{
		name:       "tellus",
		capability: Capability{Signal: CapHTTPStatus, Status: 413, Strategy: Bisect},
		maxWidth:   time.Nanosecond, // every range is too large
	}
	_, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(16*time.Second)))
	require.Error(t, err)

	var ue *UnsplittableRangeError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "tellus", ue.Vendor)
	assert.Less(t, ue.Range.Width(), 2*time.Second)
	assert.False(t, errors.Is(err, ErrTruncated))
}

func TestEngineCountCapBisect(t *testing.T) {
	a := &datasetAdapter{
		name:       "licor",
		capability: Capability{Signal: CapRecordCount, Threshold: 300, Strategy: Bisect},
		data:       series(t0, 1000, time.Second, "analyzer-1"),
		limit:      300,
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(1000*time.Second)))
	require.NoError(t, err)
	require.Len(t, res.Records, 1000)
	assertSortedUnique(t, res.Records)
	assert.Greater(t, res.Splits, 0)
}

func TestEngineAdvanceFallsBackToBisect(t *testing.T) {
	a := &datasetAdapter{
		name:       "sensecap",
		capability: Capability{Signal: CapErrorBody, Strategy: AdvanceFromLastTimestamp},
		data:       series(t0, 64, time.Second, "node-1"),
		maxWidth:   16 * time.Second,
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(64*time.Second)))
	require.NoError(t, err)
	require.Len(t, res.Records, 64)
}

func TestEngineRemoteErrorPropagates(t *testing.T) {
	a := &datasetAdapter{
		name:       "licor",
		capability: Capability{Signal: CapRecordCount, Threshold: 10, Strategy: Bisect},
		data:       series(t0, 100, time.Second, "analyzer-1"),
		limit:      10,
		failOnCall: 3,
		failErr:    &RemoteError{Vendor: "licor", Status: 500, Message: "boom"},
	}
	_, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(100*time.Second)))
	require.Error(t, err)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 500, re.Status)
	assert.Len(t, a.calls, 3)
}

func TestEngineCallBudget(t *testing.T) {
	a := &datasetAdapter{
		name:       "tellus",
		capability: Capability{Signal: CapHTTPStatus, Status: 413, Strategy: Bisect},
		maxWidth:   time.Nanosecond,
	}
	_, err := NewEngine(EngineOptions{MaxCalls: 5}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(24*time.Hour)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallBudgetExceeded))
	assert.Len(t, a.calls, 5)
}

func TestEngineParallelMatchesSequential(t *testing.T) {
	data := append(series(t0, 2000, time.Second, "a"), series(t0, 2000, time.Second, "b")...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Less(data[j]) })

	newAdapter := func() *datasetAdapter {
		return &datasetAdapter{
			name:       "licor",
			capability: Capability{Signal: CapRecordCount, Threshold: 250, Strategy: Bisect},
			data:       data,
			limit:      250,
		}
	}
	req := requestFor(t0, t0.Add(2000*time.Second))

	seq, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), newAdapter(), req)
	require.NoError(t, err)
	par, err := NewEngine(EngineOptions{Concurrency: 4}).Retrieve(context.Background(), newAdapter(), req)
	require.NoError(t, err)

	require.Len(t, seq.Records, 4000)
	assert.Equal(t, seq.Records, par.Records)
	assert.Equal(t, seq.Calls, par.Calls)
}

func TestEngineMaxSpanChunks(t *testing.T) {
	a := &datasetAdapter{
		name: "sensecap",
		capability: Capability{
			Signal:     CapErrorBody,
			Strategy:   Bisect,
			Resolution: time.Millisecond,
			MaxSpan:    72 * time.Hour,
		},
		data: series(t0, 240, time.Hour, "node-1"),
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(240*time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Records, 240)
	require.Len(t, a.calls, 4)
	for _, c := range a.calls {
		assert.LessOrEqual(t, c.Width(), 72*time.Hour)
	}
}

func TestEngineEmptyAndInvalidRange(t *testing.T) {
	a := &datasetAdapter{name: "tellus", capability: Capability{Strategy: Bisect}}
	e := NewEngine(EngineOptions{})

	res, err := e.Retrieve(context.Background(), a, requestFor(t0, t0))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Empty(t, a.calls)

	_, err = e.Retrieve(context.Background(), a, requestFor(t0, t0.Add(-time.Second)))
	assert.True(t, errors.Is(err, ErrInvalidRange))
}

func TestEngineCancelledContext(t *testing.T) {
	a := &datasetAdapter{name: "tellus", capability: Capability{Strategy: Bisect}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(EngineOptions{}).Retrieve(ctx, a, requestFor(t0, t0.Add(time.Hour)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, a.calls)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	splits   map[SplitStrategy]int
}

func (o *countingObserver) ObserveCall(_ string, outcome string, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) ObserveSplit(_ string, s SplitStrategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.splits[s]++
}

func TestEngineObserver(t *testing.T) {
	obs := &countingObserver{outcomes: map[string]int{}, splits: map[SplitStrategy]int{}}
	a := &datasetAdapter{
		name:       "hobolink",
		capability: Capability{Signal: CapRecordCount, Threshold: 10, Strategy: AdvanceFromLastTimestamp},
		data:       series(t0, 25, time.Second, "logger-1"),
		limit:      10,
	}
	_, err := NewEngine(EngineOptions{Observer: obs}).Retrieve(context.Background(), a, requestFor(t0, t0.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, 2, obs.outcomes[OutcomeTruncated])
	assert.Equal(t, 1, obs.outcomes[OutcomeComplete])
	assert.Equal(t, 2, obs.splits[AdvanceFromLastTimestamp])
}

func TestMidpoint(t *testing.T) {
	mid, ok := midpoint(TimeRange{Start: t0, End: t0.Add(175 * time.Second)}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(87*time.Second), mid)

	_, ok = midpoint(TimeRange{Start: t0, End: t0.Add(time.Second)}, time.Second)
	assert.False(t, ok)

	mid, ok = midpoint(TimeRange{Start: t0, End: t0.Add(time.Second)}, time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(500*time.Millisecond), mid)

	// Unaligned start: a whole-second split still exists.
	mid, ok = midpoint(TimeRange{Start: t0.Add(500 * time.Millisecond), End: t0.Add(2 * time.Second)}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), mid)

	mid, ok = midpoint(TimeRange{Start: t0.Add(500 * time.Millisecond), End: t0.Add(1200 * time.Millisecond)}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), mid)

	_, ok = midpoint(TimeRange{Start: t0.Add(100 * time.Millisecond), End: t0.Add(900 * time.Millisecond)}, time.Second)
	assert.False(t, ok)
}

func TestEngineBisectsUnalignedNarrowRange(t *testing.T) {
	a := &datasetAdapter{
		name:       "tellus",
		capability: Capability{Signal: CapHTTPStatus, Status: 413, Strategy: Bisect},
		data:       series(t0, 3, time.Second, "d1"),
		maxWidth:   time.Second,
	}
	res, err := NewEngine(EngineOptions{}).Retrieve(context.Background(), a,
		requestFor(t0.Add(500*time.Millisecond), t0.Add(2*time.Second)))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, t0.Add(time.Second), res.Records[0].Timestamp)
	assert.Equal(t, 1, res.Splits)
}

func TestEngineLogsSharedFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := &datasetAdapter{
		name:       "tellus",
		capability: Capability{Signal: CapHTTPStatus, Status: 413, Strategy: Bisect},
		data:       series(t0, 4, time.Second, "d1"),
		maxWidth:   2 * time.Second,
	}
	_, err := NewEngine(EngineOptions{Logger: zap.New(core).Sugar()}).
		Retrieve(context.Background(), a, requestFor(t0, t0.Add(4*time.Second)))
	require.NoError(t, err)

	splits := logs.FilterMessage("cap reached, splitting range").All()
	require.Len(t, splits, 1)
	fields := splits[0].ContextMap()
	assert.Equal(t, "tellus", fields[logger.FieldVendor])
	assert.Equal(t, "bisect", fields[logger.FieldStrategy])
	assert.Contains(t, fields, logger.FieldRange)

	done := logs.FilterMessage("retrieval complete").All()
	require.Len(t, done, 1)
	assert.EqualValues(t, 4, done[0].ContextMap()[logger.FieldCount])
	assert.EqualValues(t, 1, done[0].ContextMap()[logger.FieldSplits])
}
