package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagerun/internal/browser"
	"pagerun/internal/config"
	"pagerun/internal/harness"
	"pagerun/internal/logging"
	"pagerun/internal/metrics"
	"pagerun/internal/report"
	"pagerun/internal/store"
	"pagerun/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// driver is a harness.Driver that owns a browser.
type driver interface {
	harness.Driver
	Close(ctx context.Context) error
}

// app runs targets and records what happened.
type app struct {
	cfg     *config.Config
	out     io.Writer
	driver  driver
	timeout time.Duration
	history *store.HistoryStore // nil when disabled
	metrics *metrics.Recorder   // nil when disabled
	logger  *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) *app {
	a := &app{
		cfg:     cfg,
		out:     out,
		driver:  newRodDriver(ctx, cfg),
		timeout: timeout,
		logger:  logging.Get(logging.CategoryBoot),
	}

	if cfg.History.Enabled {
		h, err := store.Open(cfg.History.Path)
		if err != nil {
			a.logger.Warn("run history disabled", zap.Error(err))
		} else {
			a.history = h
			a.logger.Debug("recording run history", zap.String("path", h.Path()))
		}
	}
	if cfg.Metrics.Textfile != "" {
		a.metrics = metrics.NewRecorder(cfg.Metrics.Textfile)
	}
	return a
}

// close releases the browser and the history database. Failures here happen
// after the verdict and only get logged.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.driver.Close(ctx); err != nil {
		a.logger.Debug("browser shutdown", zap.Error(err))
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Debug("close history", zap.Error(err))
		}
	}
}

// execute performs one harness run. With muteOnCancel, output stops as soon
// as ctx is cancelled, so an interrupted re-run leaves no status lines.
func (a *app) execute(ctx context.Context, target, url string, muteOnCancel bool) harness.Outcome {
	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	printer := report.NewPrinter(a.out)
	if muteOnCancel {
		stop := context.AfterFunc(ctx, printer.Close)
		defer stop()
	}
	h := harness.New(a.driver, printer, harness.Options{
		EntryPoint:        a.cfg.Runner.EntryPoint,
		ResultVariable:    a.cfg.Runner.ResultVariable,
		EvaluationTimeout: a.cfg.GetEvaluationTimeout(),
		FlushTimeout:      a.cfg.GetFlushTimeout(),
	})
	outcome := h.Run(runCtx, target, url)
	printer.Close()
	a.logger.Debug("run output",
		zap.Int("console_lines_printed", printer.ConsoleLines()),
		zap.Int("console_lines_seen", outcome.ConsoleLines))
	return outcome
}

// runOnce performs one harness run, records it and returns its exit code.
func (a *app) runOnce(ctx context.Context, target, url string) int {
	outcome := a.execute(ctx, target, url, false)
	a.record(outcome)
	return outcome.ExitCode
}

// rerun is runOnce for watch mode. A run interrupted by ctx is discarded:
// ok is false and nothing is printed or recorded.
func (a *app) rerun(ctx context.Context, target, url string) (code int, ok bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	outcome := a.execute(ctx, target, url, true)
	if ctx.Err() != nil {
		a.logger.Debug("interrupted run discarded", zap.String("target", target))
		return 0, false
	}
	a.record(outcome)
	return outcome.ExitCode, true
}

// record writes the outcome to history and metrics. It never changes the
// exit code.
func (a *app) record(o harness.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.history != nil {
		run := store.Run{
			Target:       o.Target,
			URL:          o.URL,
			FinalState:   string(o.State),
			ExitCode:     o.ExitCode,
			Failures:     harness.FormatFailures(o.Failures),
			ConsoleLines: o.ConsoleLines,
			StartedAt:    o.StartedAt,
			FinishedAt:   o.FinishedAt,
		}
		if o.Err != nil {
			run.Error = o.Err.Error()
		}
		if _, err := a.history.Record(ctx, run); err != nil {
			a.logger.Warn("record run", zap.Error(err))
		}
		if a.cfg.History.Keep > 0 {
			if _, err := a.history.Prune(ctx, a.cfg.History.Keep); err != nil {
				a.logger.Warn("prune history", zap.Error(err))
			}
		}
	}

	if a.metrics != nil {
		failures, counted := harness.FailureCount(o.Failures)
		a.metrics.Observe(metrics.Result{
			Target:       o.Target,
			ExitCode:     o.ExitCode,
			Failures:     failures,
			Counted:      counted,
			ConsoleLines: o.ConsoleLines,
			Duration:     o.Duration(),
			FinishedAt:   o.FinishedAt,
		})
		if err := a.metrics.Write(); err != nil {
			a.logger.Warn("write metrics textfile", zap.Error(err))
		}
	}
}

// watchLoop runs target again after every burst of changes under paths and
// returns the exit code of the last run that completed once ctx is done.
func (a *app) watchLoop(ctx context.Context, target, url string, paths []string, first int) (int, error) {
	w, err := watch.New(paths, a.cfg.GetWatchDebounce())
	if err != nil {
		return first, err
	}
	defer w.Close()

	log := logging.Get(logging.CategoryWatch)
	log.Info("watching for changes", zap.Strings("paths", paths))

	last := first
	rerun := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx, func(context.Context) {
			// Coalesce bursts that arrive while a run is in progress.
			select {
			case rerun <- struct{}{}:
			default:
			}
		})
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-rerun:
				log.Debug("change detected, re-running", zap.String("target", target))
				if code, ok := a.rerun(gctx, target, url); ok {
					last = code
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return last, err
	}
	return last, nil
}

// runTarget is the root command's RunE.
func runTarget(cmd *cobra.Command, args []string) error {
	target := args[0]
	url, err := browser.ResolveTarget(target)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, cfg, cmd.OutOrStdout())
	defer a.close()

	code := a.runOnce(ctx, target, url)

	paths := watchPaths
	if len(paths) == 0 {
		paths = cfg.Watch.Paths
	}
	if len(paths) > 0 && ctx.Err() == nil {
		code, err = a.watchLoop(ctx, target, url, paths, code)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}

	if code != harness.ExitSuccess {
		return &exitError{code: code}
	}
	return nil
}
