package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "passed", ResultLabel(0))
	assert.Equal(t, "load_failed", ResultLabel(1))
	assert.Equal(t, "failed", ResultLabel(100))
}

func TestObserve(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "pagerun.prom"))

	r.Observe(Result{Target: "a.html", ExitCode: 100, Failures: 3, Counted: true, ConsoleLines: 5, Duration: 2 * time.Second})
	r.Observe(Result{Target: "a.html", ExitCode: 0, Failures: 0, Counted: true, ConsoleLines: 2, Duration: time.Second})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.exitCode.WithLabelValues("a.html")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.failures.WithLabelValues("a.html")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.duration.WithLabelValues("a.html")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("a.html", "passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("a.html", "failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.consoleLines.WithLabelValues("a.html")))
}

func TestObserve_UncountedFailures(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "pagerun.prom"))
	r.Observe(Result{Target: "b.html", ExitCode: 100})
	assert.Equal(t, -1.0, testutil.ToFloat64(r.failures.WithLabelValues("b.html")))
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagerun.prom")
	r := NewRecorder(path)
	r.Observe(Result{Target: "http://bad.invalid/", ExitCode: 1, FinishedAt: time.Unix(1700000000, 0)})

	require.NoError(t, r.Write())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `pagerun_last_run_exit_code{target="http://bad.invalid/"} 1`)
	assert.Contains(t, content, `pagerun_runs_total{result="load_failed",target="http://bad.invalid/"} 1`)
	assert.Contains(t, content, "pagerun_last_run_timestamp_seconds")
	assert.False(t, strings.Contains(content, "go_goroutines"), "private registry must not export runtime metrics")
}

func TestWrite_BadPath(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "missing-dir", "pagerun.prom"))
	assert.Error(t, r.Write())
}

func TestWrite_CountersCoverOneInvocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagerun.prom")

	first := NewRecorder(path)
	first.Observe(Result{Target: "a.html", ExitCode: 100, ConsoleLines: 4})
	first.Observe(Result{Target: "a.html", ExitCode: 100, ConsoleLines: 4})
	require.NoError(t, first.Write())

	// A later invocation starts its own registry and replaces the file.
	second := NewRecorder(path)
	second.Observe(Result{Target: "a.html", ExitCode: 100, ConsoleLines: 1})
	require.NoError(t, second.Write())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `pagerun_runs_total{result="failed",target="a.html"} 1`)
	assert.Contains(t, content, `pagerun_console_messages_total{target="a.html"} 1`)
	assert.Contains(t, content, "# HELP pagerun_runs_total Runs by result during this pagerun invocation")
}
