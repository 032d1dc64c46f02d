package sensor

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrTruncated is the control signal for a capped response. The engine
	// consumes it; it never reaches callers of Retrieve.
	ErrTruncated = errors.New("response truncated by vendor cap")

	// ErrCallBudgetExceeded is returned when a retrieval needs more vendor
	// calls than the engine allows.
	ErrCallBudgetExceeded = errors.New("retrieval exceeded vendor call budget")

	ErrInvalidRange  = errors.New("invalid time range")
	ErrAmbiguousTime = errors.New("timestamp has no UTC offset")
	ErrNoJobs        = errors.New("no retrieval jobs")
	ErrAllJobsFailed = errors.New("every retrieval job failed")
)

// AuthError is a credential or token rejection.
type AuthError struct {
	Vendor  string
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (%d): %s", e.Vendor, e.Status, e.Message)
}

// RemoteError is a non-cap vendor failure. Status is 0 when no response
// arrived (network failure or timeout).
type RemoteError struct {
	Vendor  string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: request failed: %s", e.Vendor, e.Message)
	}
	return fmt.Sprintf("%s: remote error %d: %s", e.Vendor, e.Status, e.Message)
}

// UnsplittableRangeError reports a range that still hit the cap after it
// could no longer be narrowed.
type UnsplittableRangeError struct {
	Vendor string
	Range  TimeRange
}

func (e *UnsplittableRangeError) Error() string {
	return fmt.Sprintf("%s: range %s still truncated and cannot be split further", e.Vendor, e.Range)
}

// MalformedResponseError is an unexpected payload shape.
type MalformedResponseError struct {
	Vendor string
	Status int
	Detail string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response (status %d): %s", e.Vendor, e.Status, e.Detail)
}

// IsAuth reports whether err carries an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsUnsplittable reports whether err carries an *UnsplittableRangeError.
func IsUnsplittable(err error) bool {
	var ue *UnsplittableRangeError
	return errors.As(err, &ue)
}
