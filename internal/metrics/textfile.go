// Package metrics exports run results as a Prometheus textfile, the format
// node_exporter's textfile collector picks up on CI hosts.
package metrics

import (
	"fmt"
	"time"

	"pagerun/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Result summarizes one run for export.
type Result struct {
	Target       string
	ExitCode     int
	Failures     int  // meaningful only when Counted
	Counted      bool // the page reported a whole failure count
	ConsoleLines int
	Duration     time.Duration
	FinishedAt   time.Time
}

// Recorder owns a private registry so nothing else leaks into the textfile.
// The registry lives as long as the process, and each Write replaces the
// file, so the counters cover one invocation: a single run normally, every
// re-run in watch mode. Aggregation across invocations is left to Prometheus.
type Recorder struct {
	registry *prometheus.Registry
	path     string
	logger   *zap.Logger

	exitCode     *prometheus.GaugeVec
	failures     *prometheus.GaugeVec
	duration     *prometheus.GaugeVec
	timestamp    *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	consoleLines *prometheus.CounterVec
}

// NewRecorder creates a Recorder writing to path.
func NewRecorder(path string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		path:     path,
		logger:   logging.Get(logging.CategoryMetrics),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagerun_last_run_exit_code",
			Help: "Exit code of the most recent run.",
		}, []string{"target"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagerun_last_run_failures",
			Help: "Failure count reported by the most recent run; -1 when the page gave no count.",
		}, []string{"target"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagerun_last_run_duration_seconds",
			Help: "Wall time of the most recent run.",
		}, []string{"target"}),
		timestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagerun_last_run_timestamp_seconds",
			Help: "Unix time the most recent run finished.",
		}, []string{"target"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerun_runs_total",
			Help: "Runs by result during this pagerun invocation (more than one only in watch mode).",
		}, []string{"target", "result"}),
		consoleLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerun_console_messages_total",
			Help: "Page console messages mirrored to stdout during this pagerun invocation.",
		}, []string{"target"}),
	}
	r.registry.MustRegister(r.exitCode, r.failures, r.duration, r.timestamp, r.runs, r.consoleLines)
	return r
}

// ResultLabel buckets an exit code for pagerun_runs_total.
func ResultLabel(exitCode int) string {
	switch exitCode {
	case 0:
		return "passed"
	case 1:
		return "load_failed"
	default:
		return "failed"
	}
}

// Observe updates the metrics with res.
func (r *Recorder) Observe(res Result) {
	failures := -1.0
	if res.Counted {
		failures = float64(res.Failures)
	}
	r.exitCode.WithLabelValues(res.Target).Set(float64(res.ExitCode))
	r.failures.WithLabelValues(res.Target).Set(failures)
	r.duration.WithLabelValues(res.Target).Set(res.Duration.Seconds())
	r.timestamp.WithLabelValues(res.Target).Set(float64(res.FinishedAt.UnixMilli()) / 1000)
	r.runs.WithLabelValues(res.Target, ResultLabel(res.ExitCode)).Inc()
	r.consoleLines.WithLabelValues(res.Target).Add(float64(res.ConsoleLines))
}

// Write atomically replaces the textfile with the current metrics.
func (r *Recorder) Write() error {
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	r.logger.Debug("metrics written", zap.String("path", r.path))
	return nil
}
