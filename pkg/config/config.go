// Package config loads and validates the ludexd configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultAPIBase     = "https://api.ludex.gg"
	DefaultSearchBase  = "https://catalog.ludex.gg"
	DefaultLegacyBase  = "https://embed.ludex.gg"
	DefaultArtworkBase = "https://artwork.ludex.gg"
	DefaultEngineBase  = "http://127.0.0.1:5710"
	DefaultBind        = "127.0.0.1:5715"

	DefaultFetchLimit   = 50
	DefaultWindowSize   = 50
	DefaultPageSize     = 48
	DefaultMaxVisible   = 120
	DefaultPollInterval = 30 * time.Second
	DefaultDebounce     = 300 * time.Millisecond
)

// Config is the complete ludexd configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Comments  CommentsConfig  `yaml:"comments"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Artwork   ArtworkConfig   `yaml:"artwork"`
	Downloads DownloadsConfig `yaml:"downloads"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig points at the main backend (comments + push channel).
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is the session token minted by the shell's sign-in flow.
	// Empty means signed out; publish is rejected locally.
	Token string `yaml:"token"`
}

// CommentsConfig tunes the comment feed synchronizer.
type CommentsConfig struct {
	FetchLimit   int           `yaml:"fetch_limit"`
	WindowSize   int           `yaml:"window_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CatalogConfig tunes the catalog cache and its sources.
type CatalogConfig struct {
	SearchBase string `yaml:"search_base"`
	LegacyBase string `yaml:"legacy_base"`
	PageSize   int    `yaml:"page_size"`
	// MaxVisible caps how many visible ids one refresh cycle may track.
	MaxVisible      int           `yaml:"max_visible"`
	RefreshDebounce time.Duration `yaml:"refresh_debounce"`
}

// ArtworkConfig points at the asset-enrichment service and defines which
// enrichment results are allowed to replace base images.
type ArtworkConfig struct {
	BaseURL string `yaml:"base_url"`
	// PreferredSources lists selected_source values that win over base images.
	PreferredSources []string `yaml:"preferred_sources"`
	// PreferredHosts lists asset URL hosts that win over base images.
	PreferredHosts []string `yaml:"preferred_hosts"`
}

// DownloadsConfig points at the local download engine.
type DownloadsConfig struct {
	EngineBase string `yaml:"engine_base"`
}

// ServerConfig controls the local HTTP surface consumed by the shell.
type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig locates the durable state directory.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// TelemetryConfig toggles tracing; metrics are always registered.
type TelemetryConfig struct {
	TraceEnabled bool `yaml:"trace_enabled"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultAPIBase,
		},
		Comments: CommentsConfig{
			FetchLimit:   DefaultFetchLimit,
			WindowSize:   DefaultWindowSize,
			PollInterval: DefaultPollInterval,
		},
		Catalog: CatalogConfig{
			SearchBase:      DefaultSearchBase,
			LegacyBase:      DefaultLegacyBase,
			PageSize:        DefaultPageSize,
			MaxVisible:      DefaultMaxVisible,
			RefreshDebounce: DefaultDebounce,
		},
		Artwork: ArtworkConfig{
			BaseURL:          DefaultArtworkBase,
			PreferredSources: []string{"community"},
		},
		Downloads: DownloadsConfig{
			EngineBase: DefaultEngineBase,
		},
		Server: ServerConfig{
			Bind:           DefaultBind,
			AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return ".ludex"
	}
	return filepath.Join(home, ".ludex")
}

// Load reads configuration from path (optional), merges it over the defaults,
// applies environment overrides, and validates the result. An empty path uses
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.fillZeroValues()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies LUDEX_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUDEX_API_BASE"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("LUDEX_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("LUDEX_SEARCH_BASE"); v != "" {
		cfg.Catalog.SearchBase = v
	}
	if v := os.Getenv("LUDEX_LEGACY_BASE"); v != "" {
		cfg.Catalog.LegacyBase = v
	}
	if v := os.Getenv("LUDEX_ARTWORK_BASE"); v != "" {
		cfg.Artwork.BaseURL = v
	}
	if v := os.Getenv("LUDEX_ENGINE_BASE"); v != "" {
		cfg.Downloads.EngineBase = v
	}
	if v := os.Getenv("LUDEX_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("LUDEX_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LUDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// fillZeroValues restores defaults for fields a config file set to zero.
func (c *Config) fillZeroValues() {
	if c.Comments.FetchLimit <= 0 {
		c.Comments.FetchLimit = DefaultFetchLimit
	}
	if c.Comments.WindowSize <= 0 {
		c.Comments.WindowSize = DefaultWindowSize
	}
	if c.Comments.PollInterval <= 0 {
		c.Comments.PollInterval = DefaultPollInterval
	}
	if c.Catalog.PageSize <= 0 {
		c.Catalog.PageSize = DefaultPageSize
	}
	if c.Catalog.MaxVisible <= 0 {
		c.Catalog.MaxVisible = DefaultMaxVisible
	}
	if c.Catalog.RefreshDebounce <= 0 {
		c.Catalog.RefreshDebounce = DefaultDebounce
	}
	if c.Server.Bind == "" {
		c.Server.Bind = DefaultBind
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"api.base_url":          c.API.BaseURL,
		"catalog.search_base":   c.Catalog.SearchBase,
		"catalog.legacy_base":   c.Catalog.LegacyBase,
		"artwork.base_url":      c.Artwork.BaseURL,
		"downloads.engine_base": c.Downloads.EngineBase,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: %q is not an absolute URL", name, raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s: unsupported scheme %q", name, u.Scheme)
		}
	}

	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind: %q is not host:port: %w", c.Server.Bind, err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	return nil
}
