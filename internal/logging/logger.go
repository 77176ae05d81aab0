// Package logging provides config-driven categorized logging for pagerun.
// Logs always go to stderr: stdout belongs to the page console and the
// harness status lines.
package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config loading
	CategoryBrowser Category = "browser" // Chromium launch, pages, CDP events
	CategoryHarness Category = "harness" // Run state machine, decisions
	CategoryConsole Category = "console" // Mirrored page console messages
	CategoryStore   Category = "store"   // Run history database
	CategoryMetrics Category = "metrics" // Prometheus textfile
	CategoryWatch   Category = "watch"   // File watching
)

// Options mirrors config.LoggingConfig plus the --verbose flag.
type Options struct {
	Level   string
	JSON    bool
	File    string
	Verbose bool
}

var base atomic.Pointer[zap.Logger]

// ParseLevel converts a config level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds the process logger. --verbose forces debug level.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
	}
	if !opts.JSON {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	// Sampling would drop bursts of mirrored console lines.
	config.Sampling = nil

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Initialize installs the base logger returned by Get.
func Initialize(logger *zap.Logger) {
	base.Store(logger)
}

// Get returns a named logger for the category.
// Returns a no-op logger until Initialize has been called.
func Get(category Category) *zap.Logger {
	l := base.Load()
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(string(category))
}

// Sync flushes the base logger. Errors from syncing stderr are ignored.
func Sync() {
	if l := base.Load(); l != nil {
		_ = l.Sync()
	}
}
