// Command pagerun loads a page in headless Chromium, runs its in-page test
// suite once and exits with the suite's verdict.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pagerun/internal/config"
	"pagerun/internal/harness"
	"pagerun/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration
	watchPaths []string

	cfg    *config.Config
	logger *zap.Logger
)

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// exitCode maps an Execute error to the process exit code. Anything that is
// not an exitError is a usage or configuration error.
func exitCode(err error) int {
	if err == nil {
		return harness.ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return harness.ExitUsage
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pagerun [flags] <url|path>",
	Short: "Run an in-page JavaScript test suite in headless Chromium",
	Long: `pagerun opens a URL or local HTML file in headless Chromium, mirrors the
page console to stdout, calls the page's test runner once and reads the
failure count the page leaves behind.

Exit codes:
  0    the page reported exactly 0 failures
  1    the page could not be opened
  2    usage or configuration error
  100  tests failed, or no usable failure count`,
	Example: `  pagerun test/index.html
  pagerun --timeout 2m http://localhost:8000/test.html
  pagerun --watch src --watch test test/index.html`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		logger, err = logging.New(logging.Options{
			Level:   cfg.Logging.Level,
			JSON:    cfg.Logging.JSON,
			File:    cfg.Logging.File,
			Verbose: verbose,
		})
		if err != nil {
			return err
		}
		logging.Initialize(logger)
		logging.Get(logging.CategoryBoot).Debug("config loaded",
			zap.String("path", configPath),
			zap.String("entry_point", cfg.Runner.EntryPoint),
			zap.Bool("history", cfg.History.Enabled))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: runTarget,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Config file")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Bound each run (0 = no limit)")
	rootCmd.Flags().StringArrayVar(&watchPaths, "watch", nil, "Re-run when files under this directory change (repeatable)")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	err := rootCmd.Execute()
	code := exitCode(err)
	if code == harness.ExitUsage {
		fmt.Fprintln(os.Stderr, "pagerun:", err)
	}
	logging.Sync()
	os.Exit(code)
}
