package route

import (
	"context"
	"errors"
	"fmt"
)

// UnknownTransfers is the transfer count reported when a route was found but the
// oracle returned no segment information.
const UnknownTransfers = -1

// ErrUnavailable marks an oracle that cannot serve any call at all, for example
// because its credentials were rejected. It is the only route error that may
// fail a whole computation.
var ErrUnavailable = errors.New("route oracle unavailable")

// Segment describes one line ridden along a route.
type Segment struct {
	Line       string `json:"line,omitempty"`
	StartName  string `json:"start_name,omitempty"`
	StationCnt int    `json:"station_count,omitempty"`
}

// Result is a single route between two stations.
type Result struct {
	TotalTravelTimeSeconds int       `json:"total_travel_time_seconds"`
	Segments               []Segment `json:"segments"`
}

// TransferCount derives the number of transfers from the segment list.
// A route without segment data yields UnknownTransfers.
func (r Result) TransferCount() int {
	return max(len(r.Segments)-1, UnknownTransfers)
}

// Oracle is the port for the external transit-routing service.
type Oracle interface {
	// Query returns the route from startID to endID. Failures are reported as
	// *Error, or wrap ErrUnavailable when the oracle is unusable altogether.
	Query(ctx context.Context, startID, endID int) (Result, error)
}

// ErrorKind classifies a failed route query.
type ErrorKind int

const (
	Unreachable ErrorKind = iota
	Timeout
	Upstream
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case Upstream:
		return "upstream"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a per-query routing failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "route " + e.Kind.String()
	}
	return fmt.Sprintf("route %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a route error of the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind of a route error. Errors that are not *Error are
// classified as Upstream.
func KindOf(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return Upstream
}
