package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/transit"
)

// Config holds all configurable parameters for the application.
type Config struct {
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	LogLevel       string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	HistorySize    int      `yaml:"history_size" validate:"min=1"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
	ReportTemplate string   `yaml:"report_template"`

	Catalog CatalogConfig `yaml:"catalog"`
	Transit TransitConfig `yaml:"transit"`
	Cache   CacheConfig   `yaml:"cache"`
	Engine  EngineConfig  `yaml:"engine"`

	RateLimiterTTL  time.Duration `yaml:"rate_limiter_ttl" validate:"gt=0"`
	WatcherDebounce time.Duration `yaml:"watcher_debounce" validate:"gt=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// CatalogConfig locates the YAML station catalog. An empty path disables it.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// TransitConfig describes the routing service.
type TransitConfig struct {
	BaseURL        string            `yaml:"base_url" validate:"required,url"`
	APIKey         string            `yaml:"api_key"`
	RoutePath      string            `yaml:"route_path" validate:"required,startswith=/"`
	StationPath    string            `yaml:"station_path" validate:"required,startswith=/"`
	ExtraParams    map[string]string `yaml:"extra_params"`
	Timeout        time.Duration     `yaml:"timeout" validate:"gt=0"`
	Format         string            `yaml:"format" validate:"oneof=auto json xml"`
	TravelTimeUnit time.Duration     `yaml:"travel_time_unit" validate:"gt=0"`
	RateLimit      float64           `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int               `yaml:"rate_burst" validate:"gte=0"`
	// ResolveStations lets station names missing from the catalog be looked
	// up through the routing service.
	ResolveStations bool               `yaml:"resolve_stations"`
	JSON            transit.Extraction `yaml:"json"`
	XML             transit.Extraction `yaml:"xml"`
}

// CacheConfig tunes the route result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size" validate:"min=1"`
	TTL     time.Duration `yaml:"ttl" validate:"gt=0"`
}

// EngineConfig tunes the computation and rating.
type EngineConfig struct {
	CandidateConcurrency int           `yaml:"candidate_concurrency" validate:"min=1,max=64"`
	MaxInFlight          int           `yaml:"max_in_flight" validate:"min=1,max=512"`
	RankExpression       string        `yaml:"rank_expression"`
	ExcellentWithin      time.Duration `yaml:"excellent_within" validate:"gt=0"`
	GoodWithin           time.Duration `yaml:"good_within" validate:"gtfield=ExcellentWithin"`
	FairWithin           time.Duration `yaml:"fair_within" validate:"gtfield=GoodWithin"`
	TransferPenaltyFrom  int           `yaml:"transfer_penalty_from" validate:"min=1"`
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	tc := transit.DefaultConfig()
	return Config{
		Port:        8080,
		LogLevel:    "info",
		HistorySize: 200,

		Catalog: CatalogConfig{Path: "./stations", Watch: true},
		Transit: TransitConfig{
			BaseURL:         tc.BaseURL,
			RoutePath:       tc.RoutePath,
			StationPath:     tc.StationPath,
			ExtraParams:     tc.ExtraParams,
			Timeout:         tc.Timeout,
			Format:          tc.Format,
			TravelTimeUnit:  tc.TravelTimeUnit,
			RateLimit:       tc.RateLimit,
			RateBurst:       tc.RateBurst,
			ResolveStations: true,
			JSON:            tc.JSON,
			XML:             tc.XML,
		},
		Cache: CacheConfig{Enabled: true, Size: 4096, TTL: 5 * time.Minute},
		Engine: EngineConfig{
			CandidateConcurrency: 4,
			MaxInFlight:          24,
			ExcellentWithin:      20 * time.Minute,
			GoodWithin:           35 * time.Minute,
			FairWithin:           50 * time.Minute,
			TransferPenaltyFrom:  2,
		},

		RateLimiterTTL:  10 * time.Minute,
		WatcherDebounce: 500 * time.Millisecond,

		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// TransitClientConfig converts the section into the client's configuration.
func (c TransitConfig) TransitClientConfig() transit.Config {
	return transit.Config{
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		RoutePath:      c.RoutePath,
		StationPath:    c.StationPath,
		ExtraParams:    c.ExtraParams,
		Timeout:        c.Timeout,
		Format:         c.Format,
		TravelTimeUnit: c.TravelTimeUnit,
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
		JSON:           c.JSON,
		XML:            c.XML,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Fields absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// EnvLookup finds an environment variable.
type EnvLookup func(key string) (string, bool)

// DotEnvLookup reads envFile and returns a lookup that prefers the process
// environment over the file. A missing file is not an error.
func DotEnvLookup(envFile string) (EnvLookup, error) {
	values := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			values = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides cfg from MEETPOINT_* variables and TRANSIT_API_KEY.
func ApplyEnv(cfg *Config, lookup EnvLookup) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("MEETPOINT_PORT", &cfg.Port)
	str("MEETPOINT_LOG_LEVEL", &cfg.LogLevel)
	str("MEETPOINT_CATALOG", &cfg.Catalog.Path)
	flag("MEETPOINT_CATALOG_WATCH", &cfg.Catalog.Watch)
	str("MEETPOINT_TRANSIT_URL", &cfg.Transit.BaseURL)
	str("TRANSIT_API_KEY", &cfg.Transit.APIKey)
	dur("MEETPOINT_TRANSIT_TIMEOUT", &cfg.Transit.Timeout)
	flag("MEETPOINT_CACHE", &cfg.Cache.Enabled)
	dur("MEETPOINT_CACHE_TTL", &cfg.Cache.TTL)
	num("MEETPOINT_MAX_IN_FLIGHT", &cfg.Engine.MaxInFlight)
	str("MEETPOINT_RANK_EXPRESSION", &cfg.Engine.RankExpression)
	if v, ok := lookup("MEETPOINT_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	return errors.Join(errs...)
}

// Validate checks cfg against its struct tags.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load builds the configuration: defaults, then the optional YAML file, then
// the environment (process first, then envFile).
func Load(path, envFile string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	lookup, err := DotEnvLookup(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
