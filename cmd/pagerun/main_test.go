package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pagerun/internal/config"
	"pagerun/internal/harness"
	"pagerun/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedPage plays back console lines and a failure value.
type scriptedPage struct {
	onConsole func(string)
	navErr    error
	blockNav  bool
	console   []string
	failures  interface{}
}

func (p *scriptedPage) Navigate(ctx context.Context, url string) error {
	if p.blockNav {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.navErr
}

func (p *scriptedPage) RunTests(ctx context.Context, entryPoint, resultVar string) (interface{}, error) {
	for _, line := range p.console {
		p.onConsole(line)
	}
	return p.failures, nil
}

func (p *scriptedPage) Flush(ctx context.Context, timeout time.Duration) error { return nil }
func (p *scriptedPage) Close() error                                           { return nil }

// scriptedDriver hands out one scriptedPage per run, cycling through results.
type scriptedDriver struct {
	mu       sync.Mutex
	results  []interface{}
	navErr   error
	blockNav bool
	console  []string
	runs     int
	closed   bool
	startErr error
}

func (d *scriptedDriver) NewPage(ctx context.Context, onConsole func(string)) (harness.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return nil, d.startErr
	}
	res := d.results[d.runs%len(d.results)]
	d.runs++
	return &scriptedPage{onConsole: onConsole, navErr: d.navErr, blockNav: d.blockNav, console: d.console, failures: res}, nil
}

func (d *scriptedDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *scriptedDriver) runCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

func newTestApp(t *testing.T, d *scriptedDriver, out *bytes.Buffer) *app {
	t.Helper()
	logger = zap.NewNop()
	return &app{
		cfg:    config.DefaultConfig(),
		out:    out,
		driver: d,
		logger: logger,
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 100, exitCode(&exitError{code: 100}))
	assert.Equal(t, 1, exitCode(fmt.Errorf("run: %w", &exitError{code: 1})))
	assert.Equal(t, 2, exitCode(errors.New(`accepts 1 arg(s), received 0`)))
}

func TestRunOnce_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		driver   *scriptedDriver
		wantCode int
		wantOut  []string
	}{
		{
			name:     "zero failures",
			driver:   &scriptedDriver{results: []interface{}{float64(0)}, console: []string{"ok 1", "ok 2"}},
			wantCode: 0,
			wantOut:  []string{"Loading URL: test.html", "Running test.", "ok 1", "ok 2", "Tests succeeded."},
		},
		{
			name:     "failures reported",
			driver:   &scriptedDriver{results: []interface{}{float64(3)}},
			wantCode: 100,
			wantOut:  []string{"Loading URL: test.html", "Running test.", "*** Tests failed! ***"},
		},
		{
			name:     "missing count",
			driver:   &scriptedDriver{results: []interface{}{nil}},
			wantCode: 100,
			wantOut:  []string{"Loading URL: test.html", "Running test.", "*** Tests failed! ***"},
		},
		{
			name:     "navigation error",
			driver:   &scriptedDriver{results: []interface{}{float64(0)}, navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
			wantCode: 1,
			wantOut:  []string{"Loading URL: test.html", "Failed to open test.html"},
		},
		{
			name:     "browser cannot start",
			driver:   &scriptedDriver{startErr: errors.New("launch chrome: not found")},
			wantCode: 1,
			wantOut:  []string{"Loading URL: test.html", "Failed to open test.html"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			a := newTestApp(t, tt.driver, &out)

			code := a.runOnce(context.Background(), "test.html", "file:///tmp/test.html")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOut, strings.Split(strings.TrimRight(out.String(), "\n"), "\n"))
		})
	}
}

func TestRunOnce_PrintsTargetAsTyped(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(t, &scriptedDriver{results: []interface{}{float64(0)}, navErr: errors.New("boom")}, &out)

	assert.Equal(t, 1, a.runOnce(context.Background(), " test.html", "file:///tmp/test.html"))
	assert.Equal(t, "Loading URL:  test.html\nFailed to open  test.html\n", out.String())
}

func TestRunOnce_RecordsHistoryAndMetrics(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	d := &scriptedDriver{results: []interface{}{float64(2)}, console: []string{"FAIL a", "FAIL b"}}

	c := config.DefaultConfig()
	c.History.Enabled = true
	c.History.Path = filepath.Join(dir, "history.db")
	c.History.Keep = 2
	c.Metrics.Textfile = filepath.Join(dir, "pagerun.prom")

	a := newApp(context.Background(), c, &out)
	a.driver = d
	require.NotNil(t, a.history)
	require.NotNil(t, a.metrics)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 100, a.runOnce(context.Background(), "suite.html", "file:///suite.html"))
	}

	runs, err := a.history.Recent(context.Background(), "suite.html", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2, "history should be pruned to keep")
	assert.Equal(t, "2", runs[0].Failures)
	assert.Equal(t, string(harness.StateExited), runs[0].FinalState)
	assert.Equal(t, 2, runs[0].ConsoleLines)

	prom, err := os.ReadFile(a.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `pagerun_last_run_failures{target="suite.html"} 2`)
	assert.Contains(t, string(prom), `pagerun_runs_total{result="failed",target="suite.html"} 3`)

	a.close()
	assert.True(t, d.closed)
}

func TestWatchLoop_RerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	d := &scriptedDriver{results: []interface{}{float64(1), float64(0)}}
	a := newTestApp(t, d, &out)
	a.cfg.Watch.Debounce = "50ms"

	first := a.runOnce(context.Background(), "test.html", "file:///test.html")
	require.Equal(t, 100, first)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := a.watchLoop(ctx, "test.html", "file:///test.html", []string{dir}, first)
		done <- result{code, err}
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "suite.js"), []byte(time.Now().String()), 0644)
		return d.runCount() >= 2
	}, 5*time.Second, 100*time.Millisecond)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	// Runs alternate fail/pass; the exit code follows the most recent one.
	if d.runCount()%2 == 0 {
		assert.Equal(t, 0, res.code)
	} else {
		assert.Equal(t, 100, res.code)
	}
}

func TestWatchLoop_InterruptedRunIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	d := &scriptedDriver{results: []interface{}{float64(0)}, blockNav: true}
	a := newTestApp(t, d, &out)
	a.cfg.Watch.Debounce = "50ms"

	h, err := store.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer h.Close()
	a.history = h

	watched := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(watched, 0755))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := a.watchLoop(ctx, "test.html", "file:///test.html", []string{watched}, 0)
		done <- result{code, err}
	}()

	// The re-run hangs in Navigate until the watch is cancelled.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(watched, "suite.js"), []byte(time.Now().String()), 0644)
		return d.runCount() >= 1
	}, 5*time.Second, 100*time.Millisecond)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 0, res.code, "an interrupted run must not replace the last verdict")
	assert.NotContains(t, out.String(), "Failed to open")

	runs, err := h.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWatchLoop_BadPath(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(t, &scriptedDriver{results: []interface{}{float64(0)}}, &out)
	code, err := a.watchLoop(context.Background(), "t", "file:///t", []string{filepath.Join(t.TempDir(), "absent")}, 100)
	assert.Error(t, err)
	assert.Equal(t, 100, code)
}

func TestRootCommand_UsageErrors(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")})
	assert.Equal(t, 2, exitCode(rootCmd.Execute()))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("runner:\n  entry_point: \"not valid()\"\n"), 0644))
	rootCmd.SetArgs([]string{"--config", bad, "test.html"})
	assert.Equal(t, 2, exitCode(rootCmd.Execute()))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "pagerun dev\n", out.String())
}

func TestShowHistory(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pagerun.yaml")
	dbPath := filepath.Join(dir, "history.db")

	c := config.DefaultConfig()
	c.History.Path = dbPath
	require.NoError(t, c.Save(cfgPath))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "history"})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "No history database")

	h, err := store.Open(dbPath)
	require.NoError(t, err)
	now := time.Now()
	_, err = h.Record(context.Background(), store.Run{
		Target: "a.html", FinalState: "exited", ExitCode: 100, Failures: "4",
		StartedAt: now.Add(-time.Second), FinishedAt: now,
	})
	require.NoError(t, err)
	_, err = h.Record(context.Background(), store.Run{
		Target: "b.html", FinalState: "load_failed", ExitCode: 1, Failures: "missing",
		Error: "page failed to load", StartedAt: now, FinishedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfgPath, "history", "a.html"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "a.html")
	assert.NotContains(t, out.String(), "b.html")
	assert.Contains(t, out.String(), "exited")
}
