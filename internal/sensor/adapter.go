package sensor

import (
	"context"
	"time"
)

// Adapter abstracts one vendor endpoint (HOBOlink, LI-COR, Tellus, SenseCAP).
//
// Fetch performs one vendor query for the request's range. A page that hit a count cap comes
// back with Fragment.Truncated set; a vendor that refuses oversized requests
// outright makes Fetch return an error wrapping ErrTruncated. Any other
// failure is fatal for the request.
type Adapter interface {
	Name() string
	Capability() Capability
	Fetch(ctx context.Context, req RetrievalRequest) (Fragment, error)
}

// PerDeviceAdapter is implemented by adapters whose vendor query covers a
// single device. Devices resolves the devices a request addresses; the
// Service gives each of them its own job so that one Fetch stays one call.
type PerDeviceAdapter interface {
	Adapter
	Devices(req RetrievalRequest) []string
}

// Store is the contract the in-memory observation table satisfies.
type Store interface {
	Save(records []Observation)
	Range(station string, from, to time.Time) ([]Observation, error)
	Latest(station string) (Observation, error)
	Stations() []string
}
