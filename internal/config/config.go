package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = ".pagerun.yaml"

// Config holds all pagerun configuration.
type Config struct {
	// Headless browser
	Browser BrowserConfig `yaml:"browser"`

	// In-page test runner protocol
	Runner RunnerConfig `yaml:"runner"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Run history (SQLite)
	History HistoryConfig `yaml:"history"`

	// Prometheus textfile output
	Metrics MetricsConfig `yaml:"metrics"`

	// Re-run on file changes
	Watch WatchConfig `yaml:"watch"`
}

// BrowserConfig configures how Chromium is launched or reached.
type BrowserConfig struct {
	Bin               string   `yaml:"bin"`          // Chromium binary; empty = rod's managed download
	DebuggerURL       string   `yaml:"debugger_url"` // Connect instead of launching
	Headless          bool     `yaml:"headless"`
	LaunchFlags       []string `yaml:"launch_flags"` // e.g. --no-sandbox, --disable-gpu
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
}

// RunnerConfig names the page globals the harness talks to.
type RunnerConfig struct {
	EntryPoint        string `yaml:"entry_point"`
	ResultVariable    string `yaml:"result_variable"`
	EvaluationTimeout string `yaml:"evaluation_timeout"` // empty or 0 = bounded only by --timeout
	FlushTimeout      string `yaml:"flush_timeout"`
}

// LoggingConfig configures the zap logger. Logs always go to stderr.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"` // optional extra sink
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"` // rows kept per target; 0 = unlimited
}

// MetricsConfig configures the Prometheus textfile.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Paths    []string `yaml:"paths"`
	Debounce string   `yaml:"debounce"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			NavigationTimeout: "30s",
		},
		Runner: RunnerConfig{
			EntryPoint:     "test.test_runner.runner",
			ResultVariable: "test-failures",
			FlushTimeout:   "2s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Path: filepath.Join(".pagerun", "history.db"),
			Keep: 200,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults, still subject to the environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
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
	// CHROME_BIN is the common CI convention; PAGERUN_BROWSER_BIN wins over it
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if bin := os.Getenv("PAGERUN_BROWSER_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if url := os.Getenv("PAGERUN_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if raw := os.Getenv("PAGERUN_HEADLESS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Browser.Headless = v
		}
	}

	if path := os.Getenv("PAGERUN_HISTORY_DB"); path != "" {
		c.History.Path = path
		c.History.Enabled = true
	}
	if path := os.Getenv("PAGERUN_METRICS_TEXTFILE"); path != "" {
		c.Metrics.Textfile = path
	}
	if level := os.Getenv("PAGERUN_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// entryPointPattern matches a dotted JavaScript identifier path such as
// test.test_runner.runner.
var entryPointPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !entryPointPattern.MatchString(c.Runner.EntryPoint) {
		return fmt.Errorf("runner.entry_point %q is not a dotted identifier path", c.Runner.EntryPoint)
	}
	if c.Runner.ResultVariable == "" {
		return fmt.Errorf("runner.result_variable is required")
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport must not be negative")
	}

	durations := map[string]string{
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"runner.evaluation_timeout":  c.Runner.EvaluationTimeout,
		"runner.flush_timeout":       c.Runner.FlushTimeout,
		"watch.debounce":             c.Watch.Debounce,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

// GetNavigationTimeout returns the navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDurationOr(c.Browser.NavigationTimeout, 30*time.Second)
}

// GetEvaluationTimeout returns the evaluation timeout; zero means unbounded.
func (c *Config) GetEvaluationTimeout() time.Duration {
	return parseDurationOr(c.Runner.EvaluationTimeout, 0)
}

// GetFlushTimeout returns how long to wait for pending console output.
func (c *Config) GetFlushTimeout() time.Duration {
	return parseDurationOr(c.Runner.FlushTimeout, 2*time.Second)
}

// GetWatchDebounce returns the watch debounce interval.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDurationOr(c.Watch.Debounce, 500*time.Millisecond)
}

// GetViewportWidth returns viewport width.
func (c *Config) GetViewportWidth() int {
	if c.Browser.ViewportWidth == 0 {
		return 1280
	}
	return c.Browser.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c *Config) GetViewportHeight() int {
	if c.Browser.ViewportHeight == 0 {
		return 800
	}
	return c.Browser.ViewportHeight
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
