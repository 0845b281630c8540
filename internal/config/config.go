package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WorkspaceDir is the per-vault directory holding config, logs and caches.
const WorkspaceDir = ".livenote"

// Config holds all livenote configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Snippet rendering
	Render RenderConfig `yaml:"render"`

	// Market data add-on
	Market MarketConfig `yaml:"market"`

	// Live preview server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RenderConfig configures the snippet pipeline and the settings surface.
type RenderConfig struct {
	Theme           string `yaml:"theme"`            // auto, dark, light
	MathTypesetting bool   `yaml:"math_typesetting"` // load MathJax on composed pages
	Language        string `yaml:"language"`         // fenced block tag that marks a snippet
	Namespace       string `yaml:"namespace"`        // frontmatter key owned by useStorage
	MaxIncludeDepth int    `yaml:"max_include_depth"`
	MountDelay      string `yaml:"mount_delay"`       // delayed-mount adapter timeout
	SlowNotice      string `yaml:"slow_notice"`       // "still working" threshold
	ExecTimeout     string `yaml:"execution_timeout"` // interrupt runaway snippets
	PersistDebounce string `yaml:"persist_debounce"`
	SettleTimeout   string `yaml:"settle_timeout"` // static renders wait this long for async work
}

// MarketConfig configures the market-data cache and provider.
type MarketConfig struct {
	Provider          string `yaml:"provider"`
	PrimaryAPIKey     string `yaml:"primary_api_key"`   // daily series
	SecondaryAPIKey   string `yaml:"secondary_api_key"` // intraday series
	BaseURL           string `yaml:"base_url"`
	Timezone          string `yaml:"timezone"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Staleness         string `yaml:"staleness"`
	HistoryLimit      int    `yaml:"history_limit"`
	CacheBackend      string `yaml:"cache_backend"` // files, sqlite
	DatabasePath      string `yaml:"database_path"`
	RequestTimeout    string `yaml:"request_timeout"`
}

// ServerConfig configures the live preview server.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Watch    bool   `yaml:"watch"`
	Debounce string `yaml:"debounce"`
}

// Valid theme values.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Valid cache backends.
const (
	BackendFiles  = "files"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "livenote",
		Version: "0.4.0",

		Render: RenderConfig{
			Theme:           ThemeAuto,
			MathTypesetting: false,
			Language:        "react",
			Namespace:       "react_data",
			MaxIncludeDepth: 10,
			MountDelay:      "100ms",
			SlowNotice:      "2s",
			ExecTimeout:     "10s",
			PersistDebounce: "50ms",
			SettleTimeout:   "15s",
		},

		Market: MarketConfig{
			Provider:          "alphavantage",
			BaseURL:           "https://www.alphavantage.co/query",
			Timezone:          "US/Eastern",
			RequestsPerMinute: 5,
			Staleness:         "24h",
			HistoryLimit:      5,
			CacheBackend:      BackendFiles,
			DatabasePath:      filepath.Join(WorkspaceDir, "market.db"),
			RequestTimeout:    "30s",
		},

		Server: ServerConfig{
			Addr:     "127.0.0.1:8787",
			Watch:    true,
			Debounce: "200ms",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// DefaultPath returns <vault>/.livenote/config.yaml.
func DefaultPath(vault string) string {
	return filepath.Join(vault, WorkspaceDir, "config.yaml")
}

// Load loads configuration from a YAML file.
// A missing file yields defaults. A .env file next to the workspace directory
// is read before environment overrides are applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// .env lives in the vault root (parent of .livenote). Existing env wins.
	envPath := filepath.Join(filepath.Dir(filepath.Dir(path)), ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ALPHA_VANTAGE_PRIMARY_KEY"); key != "" {
		c.Market.PrimaryAPIKey = key
	}
	if key := os.Getenv("ALPHA_VANTAGE_SECONDARY_KEY"); key != "" {
		c.Market.SecondaryAPIKey = key
	}
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		c.Market.Timezone = tz
	}
	// Milliseconds, as the original plugin's .env expressed it
	if ms := os.Getenv("MARKET_DATA_CACHE_DURATION"); ms != "" {
		if d, err := time.ParseDuration(ms + "ms"); err == nil {
			c.Market.Staleness = d.String()
		}
	}
	if theme := os.Getenv("LIVENOTE_THEME"); theme != "" {
		c.Render.Theme = strings.ToLower(theme)
	}
	if addr := os.Getenv("LIVENOTE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetMountDelay returns the delayed-mount adapter timeout.
func (c *Config) GetMountDelay() time.Duration {
	return parseDuration(c.Render.MountDelay, 100*time.Millisecond)
}

// GetSlowNotice returns the threshold after which a mounting snippet shows a notice.
func (c *Config) GetSlowNotice() time.Duration {
	return parseDuration(c.Render.SlowNotice, 2*time.Second)
}

// GetExecutionTimeout returns the maximum wall time of one pipeline execution.
func (c *Config) GetExecutionTimeout() time.Duration {
	return parseDuration(c.Render.ExecTimeout, 10*time.Second)
}

// GetPersistDebounce returns the useStorage write coalescing window.
func (c *Config) GetPersistDebounce() time.Duration {
	return parseDuration(c.Render.PersistDebounce, 50*time.Millisecond)
}

// GetSettleTimeout returns how long static renders wait for pending async work.
func (c *Config) GetSettleTimeout() time.Duration {
	return parseDuration(c.Render.SettleTimeout, 15*time.Second)
}

// GetStaleness returns the market cache freshness window.
func (c *Config) GetStaleness() time.Duration {
	return parseDuration(c.Market.Staleness, 24*time.Hour)
}

// GetRequestTimeout returns the market provider HTTP timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Market.RequestTimeout, 30*time.Second)
}

// GetDebounce returns the watcher debounce window.
func (c *Config) GetDebounce() time.Duration {
	return parseDuration(c.Server.Debounce, 200*time.Millisecond)
}

// ValidThemes lists all supported theme settings.
var ValidThemes = []string{ThemeAuto, ThemeDark, ThemeLight}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validTheme := false
	for _, t := range ValidThemes {
		if c.Render.Theme == t {
			validTheme = true
			break
		}
	}
	if !validTheme {
		return fmt.Errorf("invalid theme: %s (valid: %v)", c.Render.Theme, ValidThemes)
	}

	if c.Render.Language == "" {
		return fmt.Errorf("render.language must not be empty")
	}
	if c.Render.Namespace == "" {
		return fmt.Errorf("render.namespace must not be empty")
	}
	if c.Render.MaxIncludeDepth < 0 {
		return fmt.Errorf("render.max_include_depth must be >= 0")
	}

	switch c.Market.CacheBackend {
	case BackendFiles, BackendSQLite:
	default:
		return fmt.Errorf("invalid market cache backend: %s (valid: files, sqlite)", c.Market.CacheBackend)
	}
	if c.Market.HistoryLimit <= 0 {
		return fmt.Errorf("market.history_limit must be positive")
	}

	return nil
}

// HasMarketKeys reports whether the provider can be called at all.
func (c *Config) HasMarketKeys() bool {
	return c.Market.PrimaryAPIKey != "" || c.Market.SecondaryAPIKey != ""
}

// Set updates one settings-surface option by dotted name.
func (c *Config) Set(name, value string) error {
	switch name {
	case "theme", "render.theme":
		c.Render.Theme = strings.ToLower(value)
	case "math", "math_typesetting", "render.math_typesetting":
		switch strings.ToLower(value) {
		case "on", "true", "yes", "1":
			c.Render.MathTypesetting = true
		case "off", "false", "no", "0":
			c.Render.MathTypesetting = false
		default:
			return fmt.Errorf("invalid boolean %q for %s", value, name)
		}
	case "market.cache_backend":
		c.Market.CacheBackend = value
	case "server.addr":
		c.Server.Addr = value
	default:
		return fmt.Errorf("unknown setting: %s", name)
	}
	return c.Validate()
}
