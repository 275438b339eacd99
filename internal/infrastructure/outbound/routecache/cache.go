package routecache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/golang/groupcache/singleflight"

	"github.com/sophialabs/meetpoint/internal/domain/route"
)

var _ route.Oracle = (*Oracle)(nil)

const defaultSize = 4096

// Options configures the cache.
type Options struct {
	Size int
	TTL  time.Duration
	// Clock drives expiry; nil uses the wall clock.
	Clock gcache.Clock
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	UpstreamCalls uint64 `json:"upstream_calls"`
}

// Oracle memoises successful route results per (start, end) pair for a TTL.
// Concurrent misses for the same pair share a single upstream query, which
// outlives any one caller's context; each caller waits on its own. Failures
// are never cached. Cached results are shared and must be treated as read-only.
type Oracle struct {
	next     route.Oracle
	cache    gcache.Cache
	group    singleflight.Group
	upstream atomic.Uint64
}

// New wraps next with a TTL cache.
func New(next route.Oracle, opts Options) *Oracle {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	b := gcache.New(opts.Size).LRU()
	if opts.TTL > 0 {
		b = b.Expiration(opts.TTL)
	}
	if opts.Clock != nil {
		b = b.Clock(opts.Clock)
	}
	return &Oracle{next: next, cache: b.Build()}
}

// Query returns a cached result or asks the wrapped oracle.
func (o *Oracle) Query(ctx context.Context, startID, endID int) (route.Result, error) {
	key := cacheKey(startID, endID)
	if v, err := o.cache.Get(key); err == nil {
		return v.(route.Result), nil
	}

	type flight struct {
		v   interface{}
		err error
	}
	// The shared query ignores the starting caller's cancellation; the
	// upstream timeout bounds it.
	shared := context.WithoutCancel(ctx)
	done := make(chan flight, 1)
	go func() {
		v, err := o.group.Do(key, func() (interface{}, error) {
			o.upstream.Add(1)
			res, err := o.next.Query(shared, startID, endID)
			if err != nil {
				return nil, err
			}
			_ = o.cache.Set(key, res)
			return res, nil
		})
		done <- flight{v, err}
	}()

	select {
	case f := <-done:
		if f.err != nil {
			return route.Result{}, f.err
		}
		return f.v.(route.Result), nil
	case <-ctx.Done():
		return route.Result{}, ctx.Err()
	}
}

// Stats reports hit, miss and upstream call counters.
func (o *Oracle) Stats() Stats {
	return Stats{
		Hits:          o.cache.HitCount(),
		Misses:        o.cache.MissCount(),
		UpstreamCalls: o.upstream.Load(),
	}
}

// Purge drops every cached route.
func (o *Oracle) Purge() {
	o.cache.Purge()
}

func cacheKey(startID, endID int) string {
	return strconv.Itoa(startID) + ">" + strconv.Itoa(endID)
}
