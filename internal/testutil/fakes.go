package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

var _ ports.Logger = (*NoopLogger)(nil)

// NoopLogger discards all log output.
type NoopLogger struct{}

func (l *NoopLogger) Info(string, ...any)      {}
func (l *NoopLogger) Warn(string, ...any)      {}
func (l *NoopLogger) Error(string, ...any)     {}
func (l *NoopLogger) Debug(string, ...any)     {}
func (l *NoopLogger) With(...any) ports.Logger { return l }

var _ ports.Clock = (*FixedClock)(nil)

// FixedClock always returns T.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

var _ station.Resolver = (*StubResolver)(nil)

// StubResolver resolves names from a fixed table.
type StubResolver struct {
	Stations map[string]station.Info
	calls    atomic.Int64
}

func (r *StubResolver) Resolve(_ context.Context, name string) (station.Info, error) {
	r.calls.Add(1)
	info, ok := r.Stations[name]
	if !ok {
		return station.Info{}, fmt.Errorf("%w: %q", station.ErrNotFound, name)
	}
	return info, nil
}

// Calls returns how many times Resolve was invoked.
func (r *StubResolver) Calls() int { return int(r.calls.Load()) }

// RoutePair identifies one oracle query.
type RoutePair struct {
	Start, End int
}

var _ route.Oracle = (*StubOracle)(nil)

// StubOracle answers route queries from fixed tables. Pairs missing from both
// tables are reported as unreachable.
type StubOracle struct {
	Routes map[RoutePair]route.Result
	Errors map[RoutePair]error
	// Hook, when set, runs before every lookup; a non-nil error is returned as is.
	Hook func(ctx context.Context, p RoutePair) error

	mu    sync.Mutex
	calls []RoutePair
}

func (o *StubOracle) Query(ctx context.Context, startID, endID int) (route.Result, error) {
	p := RoutePair{Start: startID, End: endID}
	o.mu.Lock()
	o.calls = append(o.calls, p)
	o.mu.Unlock()

	if o.Hook != nil {
		if err := o.Hook(ctx, p); err != nil {
			return route.Result{}, err
		}
	}
	if err, ok := o.Errors[p]; ok {
		return route.Result{}, err
	}
	if res, ok := o.Routes[p]; ok {
		return res, nil
	}
	return route.Result{}, route.NewError(route.Unreachable, errors.New("no route"))
}

// Calls returns the number of queries received.
func (o *StubOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// CallsFor returns how many times a pair was queried.
func (o *StubOracle) CallsFor(startID, endID int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		if c.Start == startID && c.End == endID {
			n++
		}
	}
	return n
}

// Route builds a route with one segment per line given; no lines means no segment data.
func Route(travelSeconds int, lines ...string) route.Result {
	segs := make([]route.Segment, len(lines))
	for i, l := range lines {
		segs[i] = route.Segment{Line: l}
	}
	return route.Result{TotalTravelTimeSeconds: travelSeconds, Segments: segs}
}
