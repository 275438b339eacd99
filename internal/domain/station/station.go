package station

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a station name could not be resolved.
var ErrNotFound = errors.New("station not found")

// Coordinate is a geographic position. X is longitude, Y is latitude.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Info is the resolved form of a human-entered station name.
type Info struct {
	ID         int        `json:"station_id"`
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
}

// Resolver is the port for turning station names into identifiers and coordinates.
type Resolver interface {
	// Resolve looks up a station by name. It must be safe for concurrent use and
	// free of caller-visible side effects. Returns an error wrapping ErrNotFound
	// when nothing matches; it never retries internally.
	Resolve(ctx context.Context, name string) (Info, error)
}

const stationSuffix = "역"

// Normalize folds a human-entered station name into a lookup key: surrounding
// space trimmed, inner runs of space collapsed, case folded and a trailing "역"
// dropped, so "강남역" and " 강남 " resolve alike.
func Normalize(name string) string {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if trimmed := strings.TrimSuffix(key, stationSuffix); trimmed != "" {
		key = strings.TrimSpace(trimmed)
	}
	return key
}

// Chain tries each resolver in order and moves on only when a resolver reports
// ErrNotFound. Any other error is returned immediately.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, name string) (Info, error) {
	err := fmt.Errorf("%w: %q", ErrNotFound, name)
	for _, r := range c {
		info, rerr := r.Resolve(ctx, name)
		if rerr == nil {
			return info, nil
		}
		if !errors.Is(rerr, ErrNotFound) {
			return Info{}, rerr
		}
		err = rerr
	}
	return Info{}, err
}
