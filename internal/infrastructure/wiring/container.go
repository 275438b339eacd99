package wiring

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
	"github.com/sophialabs/meetpoint/internal/domain/trace"
	inboundhttp "github.com/sophialabs/meetpoint/internal/infrastructure/inbound/http"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/catalog"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/report"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/routecache"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/transit"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
	"github.com/sophialabs/meetpoint/internal/infrastructure/services"
	"github.com/sophialabs/meetpoint/internal/infrastructure/usecases"
)

// Params holds the subset of configuration needed to construct infrastructure components.
type Params struct {
	CatalogPath     string // "" disables the YAML catalog
	Transit         transit.Config
	TransitResolves bool // fall back to the transit service for unknown names
	CacheEnabled    bool
	CacheSize       int
	CacheTTL        time.Duration

	HistorySize          int
	RateLimiterTTL       time.Duration
	CandidateConcurrency int
	MaxInFlight          int
	RankExpression       string
	ReportTemplate       string // path to a pongo2 template; "" uses the built-in one
	Scorer               meeting.Scorer
	AllowedOrigins       []string

	Logger ports.Logger
	// Oracle replaces the transit client as route source when set.
	Oracle route.Oracle
}

// Container owns the construction and lifecycle of all infrastructure components.
type Container struct {
	logger           ports.Logger
	server           *inboundhttp.Server
	engine           *usecases.MeetingEngine
	prepareUC        *usecases.PrepareSnapshotUseCase
	catalog          *catalog.Repository
	cache            *routecache.Oracle
	renderer         *report.Renderer
	rateLimiterStore *ratelimit.TokenBucketStore
	history          *trace.RingBuffer
	closeOnce        sync.Once
}

// New constructs all infrastructure components. Fallible operations (catalog,
// transit client, ranker, renderer) run before goroutine-starting operations
// (rate limiter store) to avoid goroutine leaks on early failure.
func New(p Params) (*Container, error) {
	if err := p.Scorer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rating bands: %w", err)
	}

	var repo *catalog.Repository
	if p.CatalogPath != "" {
		if _, err := os.Stat(p.CatalogPath); err != nil {
			return nil, fmt.Errorf("failed to access station catalog: %w", err)
		}
		r, err := catalog.NewRepository(p.CatalogPath)
		if err != nil {
			return nil, err
		}
		repo = r
	}
	if repo == nil && !p.TransitResolves {
		return nil, errors.New("no station source configured: set a catalog path or enable transit station lookup")
	}

	ranker, err := services.NewExprRanker(p.RankExpression)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rank expression: %w", err)
	}
	renderer, err := newRenderer(p.ReportTemplate)
	if err != nil {
		return nil, err
	}

	// Start background goroutine only after all fallible ops succeed.
	rateLimiterStore := ratelimit.NewTokenBucketStore(p.RateLimiterTTL)

	client, err := transit.NewClient(p.Transit, nil, rateLimiterStore)
	if err != nil {
		rateLimiterStore.Stop()
		return nil, fmt.Errorf("failed to create transit client: %w", err)
	}

	clk := clock.New()
	history := trace.NewRingBuffer(p.HistorySize)

	var oracle route.Oracle = client
	if p.Oracle != nil {
		oracle = p.Oracle
	}
	var cache *routecache.Oracle
	if p.CacheEnabled {
		cache = routecache.New(oracle, routecache.Options{Size: p.CacheSize, TTL: p.CacheTTL, Clock: clk})
		oracle = cache
	}

	var chain station.Chain
	if repo != nil {
		chain = append(chain, repo)
	}
	if p.TransitResolves {
		chain = append(chain, client)
	}

	fetcher := usecases.NewRouteFetcher(oracle, p.MaxInFlight, p.Logger)
	engine := usecases.NewMeetingEngine(chain, fetcher, ranker, clk, p.Logger, history, usecases.EngineOptions{
		CandidateConcurrency: p.CandidateConcurrency,
		Scorer:               p.Scorer,
	})
	prepareUC := usecases.NewPrepareSnapshotUseCase(chain)

	server := inboundhttp.NewServer(engine, prepareUC, chain, p.Scorer, renderer, p.Logger, inboundhttp.Options{
		AllowedOrigins: p.AllowedOrigins,
	})
	// Interfaces stay nil rather than holding typed nil pointers.
	var cacheDep inboundhttp.RouteCache
	if cache != nil {
		cacheDep = cache
	}
	var reloadDep inboundhttp.Reloader
	if repo != nil {
		reloadDep = repo
	}
	server.SetAdminDeps(cacheDep, reloadDep)

	return &Container{
		logger:           p.Logger,
		server:           server,
		engine:           engine,
		prepareUC:        prepareUC,
		catalog:          repo,
		cache:            cache,
		renderer:         renderer,
		rateLimiterStore: rateLimiterStore,
		history:          history,
	}, nil
}

func newRenderer(path string) (*report.Renderer, error) {
	if path == "" {
		return report.NewRenderer("")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report template: %w", err)
	}
	r, err := report.NewRenderer(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to compile report template %s: %w", path, err)
	}
	return r, nil
}

// Close stops the engine and releases resources held by the container. It is idempotent.
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		c.engine.Close()
		c.rateLimiterStore.Stop()
	})
}

// Logger returns the logger passed at construction time.
func (c *Container) Logger() ports.Logger {
	return c.logger
}

// Server returns the HTTP API server.
func (c *Container) Server() *inboundhttp.Server {
	return c.server
}

// Engine returns the meeting engine.
func (c *Container) Engine() *usecases.MeetingEngine {
	return c.engine
}

// PrepareSnapshotUseCase returns the use case turning requests into snapshots.
func (c *Container) PrepareSnapshotUseCase() *usecases.PrepareSnapshotUseCase {
	return c.prepareUC
}

// Catalog returns the station catalog, or nil when none is configured.
func (c *Container) Catalog() *catalog.Repository {
	return c.catalog
}

// RouteCache returns the route cache, or nil when caching is disabled.
func (c *Container) RouteCache() *routecache.Oracle {
	return c.cache
}

// Renderer returns the report renderer.
func (c *Container) Renderer() *report.Renderer {
	return c.renderer
}

// RateLimiterStore returns the token bucket store used by the transit client.
func (c *Container) RateLimiterStore() *ratelimit.TokenBucketStore {
	return c.rateLimiterStore
}

// History returns the run history buffer.
func (c *Container) History() *trace.RingBuffer {
	return c.history
}
