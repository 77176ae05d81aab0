// Package harness runs an in-page test suite once and decides the exit code.
//
// A run moves through start → loading → load_failed, or
// start → loading → loaded → evaluating → exited. Every terminal state
// carries exactly one exit code, decided once.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pagerun/internal/logging"

	"go.uber.org/zap"
)

// ErrLoadFailed wraps every reason a page could not be opened.
var ErrLoadFailed = errors.New("page failed to load")

// Page is one browser tab the harness drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	RunTests(ctx context.Context, entryPoint, resultVar string) (interface{}, error)
	Flush(ctx context.Context, timeout time.Duration) error
	Close() error
}

// Driver opens pages. onConsole receives each page console message in
// emission order, starting before navigation.
type Driver interface {
	NewPage(ctx context.Context, onConsole func(text string)) (Page, error)
}

// Reporter prints the human-readable protocol to stdout.
type Reporter interface {
	Loading(target string)
	OpenFailed(target string)
	Running()
	Succeeded()
	Failed()
	Console(text string)
}

// Options names the page globals and bounds the evaluation.
type Options struct {
	EntryPoint        string
	ResultVariable    string
	EvaluationTimeout time.Duration // 0 = bounded only by ctx
	FlushTimeout      time.Duration
}

// Harness executes runs. It is safe to reuse across runs, not concurrently.
type Harness struct {
	driver   Driver
	reporter Reporter
	opts     Options
	logger   *zap.Logger
}

// New creates a Harness.
func New(driver Driver, reporter Reporter, opts Options) *Harness {
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 2 * time.Second
	}
	return &Harness{
		driver:   driver,
		reporter: reporter,
		opts:     opts,
		logger:   logging.Get(logging.CategoryHarness),
	}
}

// run is the per-invocation state.
type run struct {
	machine *machine
	guard   *shutdownGuard
	lines   atomic.Int64
	out     Outcome
}

// Run loads url, invokes the test runner once and returns the outcome.
// target is the argument as the user typed it and is what gets printed.
func (h *Harness) Run(ctx context.Context, target, url string) Outcome {
	r := &run{
		machine: newMachine(),
		guard:   newShutdownGuard(h.logger),
		out: Outcome{
			Target:    target,
			URL:       url,
			StartedAt: time.Now(),
		},
	}
	logger := h.logger.With(zap.String("url", url))

	r.machine.mustTo(StateLoading)
	h.reporter.Loading(target)

	page, err := h.driver.NewPage(ctx, func(text string) {
		if r.guard.isDecided() {
			return
		}
		r.lines.Add(1)
		h.reporter.Console(text)
	})
	if err != nil {
		return h.loadFailed(r, logger, fmt.Errorf("%w: open page: %w", ErrLoadFailed, err))
	}
	defer func() {
		if err := r.guard.swallow("close page", page.Close()); err != nil {
			logger.Warn("close page", zap.Error(err))
		}
	}()

	if err := page.Navigate(ctx, url); err != nil {
		return h.loadFailed(r, logger, fmt.Errorf("%w: %w", ErrLoadFailed, err))
	}
	r.machine.mustTo(StateLoaded)
	logger.Debug("page loaded")

	// Console output from page load must precede the "Running test." line.
	if err := page.Flush(ctx, h.opts.FlushTimeout); err != nil {
		logger.Debug("load console flush incomplete", zap.Error(err))
	}

	h.reporter.Running()
	r.machine.mustTo(StateEvaluating)

	evalCtx := ctx
	if h.opts.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, h.opts.EvaluationTimeout)
		defer cancel()
	}
	failures, evalErr := page.RunTests(evalCtx, h.opts.EntryPoint, h.opts.ResultVariable)
	if evalErr != nil {
		logger.Warn("test runner evaluation failed", zap.Error(evalErr))
	}

	// Drain console output produced by the suite before the verdict line.
	// A suite that overran its evaluation timeout still holds the page's
	// main thread, so the barrier could never be answered.
	if ctx.Err() == nil && !errors.Is(evalErr, context.DeadlineExceeded) {
		if err := page.Flush(ctx, h.opts.FlushTimeout); err != nil {
			logger.Debug("console flush incomplete", zap.Error(err))
		}
	}

	code := r.guard.decide(ExitCodeFor(failures, evalErr))
	r.machine.mustTo(StateExited)
	if code == ExitSuccess {
		h.reporter.Succeeded()
	} else {
		h.reporter.Failed()
	}

	r.out.Failures = failures
	r.out.Err = evalErr
	logger.Info("run finished",
		zap.Int("exit_code", code),
		zap.String("failures", FormatFailures(failures)),
		zap.Int64("console_lines", r.lines.Load()))
	return h.finish(r, code)
}

func (h *Harness) loadFailed(r *run, logger *zap.Logger, err error) Outcome {
	code := r.guard.decide(ExitLoadFailed)
	r.machine.mustTo(StateLoadFailed)
	h.reporter.OpenFailed(r.out.Target)
	logger.Warn("load failed", zap.Error(err))
	r.out.Err = err
	return h.finish(r, code)
}

func (h *Harness) finish(r *run, code int) Outcome {
	r.out.State = r.machine.current
	r.out.Trace = append([]State(nil), r.machine.trace...)
	r.out.ExitCode = code
	r.out.ConsoleLines = int(r.lines.Load())
	r.out.FinishedAt = time.Now()
	return r.out
}
