package transit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

var (
	_ route.Oracle     = (*Client)(nil)
	_ station.Resolver = (*Client)(nil)
)

const (
	maxBodySize = 4 << 20 // 4 MB
	limiterKey  = "transit"
)

// Config describes the upstream transit service.
type Config struct {
	BaseURL     string
	APIKey      string
	RoutePath   string
	StationPath string
	// ExtraParams are sent with every request (city code, search options).
	ExtraParams map[string]string
	Timeout     time.Duration
	// Format is "auto", "json" or "xml".
	Format string
	// TravelTimeUnit is the unit of the upstream travel time field.
	TravelTimeUnit time.Duration
	RateLimit      float64
	RateBurst      int
	JSON           Extraction
	XML            Extraction
}

// DefaultConfig targets an ODsay style subway API.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.odsay.com/v1/api",
		RoutePath:      "/subwayPath",
		StationPath:    "/searchStation",
		ExtraParams:    map[string]string{"CID": "1000", "Sopt": "1", "stationClass": "2"},
		Timeout:        5 * time.Second,
		Format:         FormatAuto,
		TravelTimeUnit: time.Minute,
		RateLimit:      10,
		RateBurst:      20,
		JSON:           DefaultJSONExtraction(),
		XML:            DefaultXMLExtraction(),
	}
}

// Client talks to the transit service. It is both the route oracle and an
// HTTP-backed station resolver.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    ports.RateLimiter
	jsonX      *jsonExtractor
	xmlX       *xmlExtractor
}

// NewClient validates cfg and compiles its extraction expressions.
// httpClient and limiter may be nil.
func NewClient(cfg Config, httpClient *http.Client, limiter ports.RateLimiter) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid transit base URL %q", cfg.BaseURL)
	}
	if cfg.TravelTimeUnit <= 0 {
		cfg.TravelTimeUnit = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = FormatAuto
	}
	jsonX, err := newJSONExtractor(cfg.JSON)
	if err != nil {
		return nil, err
	}
	xmlX, err := newXMLExtractor(cfg.XML)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
		jsonX:      jsonX,
		xmlX:       xmlX,
	}, nil
}

// Query asks the service for the route between two stations.
func (c *Client) Query(ctx context.Context, startID, endID int) (route.Result, error) {
	params := url.Values{}
	params.Set("SID", strconv.Itoa(startID))
	params.Set("EID", strconv.Itoa(endID))

	doc, err := c.fetch(ctx, c.cfg.RoutePath, params)
	if err != nil {
		return route.Result{}, err
	}

	if msg, ok := doc.value(fieldError); ok {
		return route.Result{}, route.NewError(route.Unreachable, fmt.Errorf("upstream reported: %s", msg))
	}

	raw, ok := doc.value(fieldTravelTime)
	if !ok {
		return route.Result{}, route.NewError(route.Unreachable, errors.New("no travel time in response"))
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return route.Result{}, route.NewError(route.Upstream, fmt.Errorf("invalid travel time %q", raw))
	}

	lines := doc.values(fieldSegmentLines)
	segments := make([]route.Segment, doc.count(fieldSegments))
	for i := range segments {
		if i < len(lines) {
			segments[i].Line = lines[i]
		}
	}

	return route.Result{
		TotalTravelTimeSeconds: int(math.Round(v * c.cfg.TravelTimeUnit.Seconds())),
		Segments:               segments,
	}, nil
}

// Resolve searches the service for a station by name and takes the first hit.
// A 404 from the search endpoint means the name is unknown.
func (c *Client) Resolve(ctx context.Context, name string) (station.Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return station.Info{}, fmt.Errorf("%w: empty name", station.ErrNotFound)
	}

	params := url.Values{}
	params.Set("stationName", name)

	doc, err := c.fetch(ctx, c.cfg.StationPath, params)
	if route.KindOf(err) == route.Unreachable {
		return station.Info{}, fmt.Errorf("%w: %q", station.ErrNotFound, name)
	}
	if err != nil {
		return station.Info{}, fmt.Errorf("failed to resolve %q: %w", name, err)
	}

	rawID, ok := doc.value(fieldStationID)
	if !ok {
		return station.Info{}, fmt.Errorf("%w: %q", station.ErrNotFound, name)
	}
	id, err := strconv.ParseFloat(rawID, 64)
	if err != nil {
		return station.Info{}, fmt.Errorf("invalid station id %q for %q", rawID, name)
	}

	info := station.Info{ID: int(id), Name: name}
	if n, ok := doc.value(fieldStationName); ok && n != "" {
		info.Name = n
	}
	info.Coordinate.X = parseFloatOrZero(doc, fieldStationX)
	info.Coordinate.Y = parseFloatOrZero(doc, fieldStationY)
	return info, nil
}

func parseFloatOrZero(doc document, f field) float64 {
	raw, ok := doc.value(f)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

// fetch performs a throttled GET and parses the body. Transport failures are
// classified as route errors; rejected credentials wrap route.ErrUnavailable.
func (c *Client) fetch(ctx context.Context, path string, params url.Values) (document, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, limiterKey, c.cfg.RateLimit, c.cfg.RateBurst); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, route.NewError(route.Timeout, fmt.Errorf("throttled: %w", err))
		}
	}

	for k, v := range c.cfg.ExtraParams {
		params.Set(k, v)
	}
	if c.cfg.APIKey != "" {
		params.Set("apiKey", c.cfg.APIKey)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", route.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(reqCtx, err) {
			return nil, route.NewError(route.Timeout, err)
		}
		return nil, route.NewError(route.Upstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d from %s", route.ErrUnavailable, resp.StatusCode, path)
	case resp.StatusCode == http.StatusNotFound:
		return nil, route.NewError(route.Unreachable, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path))
	case resp.StatusCode != http.StatusOK:
		return nil, route.NewError(route.Upstream, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(reqCtx, err) {
			return nil, route.NewError(route.Timeout, err)
		}
		return nil, route.NewError(route.Upstream, fmt.Errorf("failed to read body: %w", err))
	}

	var ex extractor = c.jsonX
	if detectFormat(c.cfg.Format, resp.Header.Get("Content-Type"), body) == FormatXML {
		ex = c.xmlX
	}
	doc, err := ex.parse(body)
	if err != nil {
		return nil, route.NewError(route.Upstream, err)
	}
	return doc, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
