package harness

import (
	"context"
	"sync"
	"time"
)

// fakePage scripts console output and results for one run.
type fakePage struct {
	mu        sync.Mutex
	onConsole func(string)

	loadConsole []string // queued by Navigate, delivered by the next Flush
	navErr      error
	blockNav    bool // wait for ctx instead of returning
	pending     []string

	runConsole []string
	failures   interface{}
	runErr     error
	blockRun   bool // wait for ctx instead of returning

	lateConsole []string // emitted from Close, after the decision
	closeErr    error

	navigated  []string
	runCalls   int
	entryPoint string
	resultVar  string
	flushed    int
	closed     int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.pending = append(p.pending, p.loadConsole...)
	p.mu.Unlock()
	if p.blockNav {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.navErr
}

func (p *fakePage) RunTests(ctx context.Context, entryPoint, resultVar string) (interface{}, error) {
	p.mu.Lock()
	p.runCalls++
	p.entryPoint = entryPoint
	p.resultVar = resultVar
	p.mu.Unlock()
	for _, line := range p.runConsole {
		p.onConsole(line)
	}
	if p.blockRun {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.failures, p.runErr
}

func (p *fakePage) Flush(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	p.flushed++
	lines := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, line := range lines {
		p.onConsole(line)
	}
	return nil
}

func (p *fakePage) Close() error {
	for _, line := range p.lateConsole {
		p.onConsole(line)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

type fakeDriver struct {
	page    *fakePage
	pageErr error
}

func (d *fakeDriver) NewPage(ctx context.Context, onConsole func(string)) (Page, error) {
	if d.pageErr != nil {
		return nil, d.pageErr
	}
	d.page.onConsole = onConsole
	return d.page, nil
}

// recorder captures the reporter protocol as ordered lines.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, s)
}

func (r *recorder) Loading(target string)    { r.add("Loading URL: " + target) }
func (r *recorder) OpenFailed(target string) { r.add("Failed to open " + target) }
func (r *recorder) Running()                 { r.add("Running test.") }
func (r *recorder) Succeeded()               { r.add("Tests succeeded.") }
func (r *recorder) Failed()                  { r.add("*** Tests failed! ***") }
func (r *recorder) Console(text string)      { r.add(text) }

func (r *recorder) output() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
