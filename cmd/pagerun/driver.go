package main

import (
	"context"
	"sync"

	"pagerun/internal/browser"
	"pagerun/internal/config"
	"pagerun/internal/harness"
	"pagerun/internal/logging"

	"go.uber.org/zap"
)

// rodDriver adapts the browser session manager to harness.Driver. The browser
// is started on the first page request, so a browser that cannot start is
// reported like any other page that failed to open.
type rodDriver struct {
	base context.Context // browser lifetime; outlives per-run timeouts
	mgr  *browser.SessionManager

	mu      sync.Mutex
	started bool
}

func newRodDriver(base context.Context, cfg *config.Config) *rodDriver {
	return &rodDriver{
		base: base,
		mgr:  browser.NewSessionManager(browserConfig(cfg)),
	}
}

func browserConfig(cfg *config.Config) browser.Config {
	return browser.Config{
		Bin:               cfg.Browser.Bin,
		DebuggerURL:       cfg.Browser.DebuggerURL,
		Launch:            cfg.Browser.LaunchFlags,
		Headless:          cfg.Browser.Headless,
		ViewportWidth:     cfg.GetViewportWidth(),
		ViewportHeight:    cfg.GetViewportHeight(),
		NavigationTimeout: cfg.GetNavigationTimeout(),
	}
}

func (d *rodDriver) NewPage(ctx context.Context, onConsole func(string)) (harness.Page, error) {
	d.mu.Lock()
	if !d.started || !d.mgr.IsConnected() {
		if err := d.mgr.Start(d.base); err != nil {
			d.mu.Unlock()
			return nil, err
		}
		d.started = true
		logging.Get(logging.CategoryBrowser).Debug("browser ready", zap.String("control_url", d.mgr.ControlURL()))
	}
	d.mu.Unlock()

	page, err := d.mgr.NewPage(ctx, func(msg browser.ConsoleMessage) {
		onConsole(msg.Text)
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (d *rodDriver) Close(ctx context.Context) error {
	return d.mgr.Shutdown(ctx)
}
