package store

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

var (
	// ErrNotFound is returned when no observations are available for a station.
	ErrNotFound = errors.New("no observations for station")
)

// StationHistory holds the time-ordered observations of one station.
type StationHistory struct {
	Observations []sensor.Observation
}

// MemoryStore is a concurrency-safe in-memory observation table.
type MemoryStore struct {
	mu sync.RWMutex

	// key: station label, value: history
	data map[string]*StationHistory

	// retention configuration
	maxRecords int           // max number of observations per station
	maxAge     time.Duration // optional max age of observations

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxRecords is <= 0, it is treated as unlimited.
func NewMemoryStore(maxRecords int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*StationHistory),
		maxRecords: maxRecords,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Save merges observations into their station histories and enforces
// retention. Saving the same observation twice keeps one copy.
func (s *MemoryStore) Save(observations []sensor.Observation) {
	byStation := make(map[string][]sensor.Observation)
	for _, o := range observations {
		byStation[o.Station] = append(byStation[o.Station], o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for station, recs := range byStation {
		history, ok := s.data[station]
		if !ok {
			history = &StationHistory{}
			s.data[station] = history
		}
		history.Observations = sensor.MergeRecords(history.Observations, recs)
		s.retain(history)
	}
}

func (s *MemoryStore) retain(history *StationHistory) {
	// Enforce retention by count.
	if s.maxRecords > 0 && len(history.Observations) > s.maxRecords {
		over := len(history.Observations) - s.maxRecords
		history.Observations = history.Observations[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := sort.Search(len(history.Observations), func(i int) bool {
			return !history.Observations[i].Timestamp.Before(cutoff)
		})
		history.Observations = history.Observations[i:]
	}
}

// Latest returns the most recent observation of a station.
func (s *MemoryStore) Latest(station string) (sensor.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[station]
	if !ok || len(history.Observations) == 0 {
		return sensor.Observation{}, ErrNotFound
	}
	return history.Observations[len(history.Observations)-1], nil
}

// Range returns the observations of a station in [from, to).
func (s *MemoryStore) Range(station string, from, to time.Time) ([]sensor.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[station]
	if !ok || len(history.Observations) == 0 {
		return nil, ErrNotFound
	}

	obs := history.Observations
	lo := sort.Search(len(obs), func(i int) bool { return !obs[i].Timestamp.Before(from) })
	hi := sort.Search(len(obs), func(i int) bool { return !obs[i].Timestamp.Before(to) })
	if lo >= hi {
		return nil, ErrNotFound
	}

	result := make([]sensor.Observation, hi-lo)
	copy(result, obs[lo:hi])
	return result, nil
}

// Stations lists the stations with at least one observation, sorted.
func (s *MemoryStore) Stations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for station, history := range s.data {
		if len(history.Observations) > 0 {
			out = append(out, station)
		}
	}
	sort.Strings(out)
	return out
}
