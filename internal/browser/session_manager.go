// Package browser drives a headless Chromium over the DevTools protocol for
// running in-page test suites.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pagerun/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when a page is requested before Start.
	ErrNotStarted = errors.New("browser not started")
	// ErrFlushTimeout is returned when pending console output did not drain in time.
	ErrFlushTimeout = errors.New("console flush timed out")
)

// Session describes the public metadata for a tracked page.
type Session struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds browser configuration.
type Config struct {
	Bin               string
	DebuggerURL       string
	Launch            []string // extra Chromium flags, e.g. --no-sandbox
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		NavigationTimeout: 30 * time.Second,
	}
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// SessionManager owns the Chrome instance and tracks open pages.
type SessionManager struct {
	cfg        Config
	logger     *zap.Logger
	mu         sync.RWMutex
	browser    *rod.Browser
	launcher   *launcher.Launcher // nil when attached via DebuggerURL
	controlURL string
	pages      map[string]*Page
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg Config) *SessionManager {
	return &SessionManager{
		cfg:    cfg,
		logger: logging.Get(logging.CategoryBrowser),
		pages:  make(map[string]*Page),
	}
}

// newLauncher builds the rod launcher, applying extra flags as given.
func (m *SessionManager) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	for _, rawFlag := range m.cfg.Launch {
		flagStr := strings.TrimLeft(rawFlag, "-")
		if flagStr == "" {
			continue
		}
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		m.closeLocked()
	}

	controlURL := m.cfg.DebuggerURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = m.newLauncher()
		url, err := l.Context(ctx).Launch()
		if err != nil {
			if len(m.cfg.Launch) == 0 {
				return fmt.Errorf("launch chrome: %w", err)
			}
			// Retry without the extra flags; a bad flag should not hide a usable browser.
			m.logger.Warn("launch with extra flags failed, retrying without them", zap.Error(err))
			l = launcher.New().Headless(m.cfg.Headless)
			if m.cfg.Bin != "" {
				l = l.Bin(m.cfg.Bin)
			}
			alt, altErr := l.Context(ctx).Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			url = alt
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.launcher = l
	m.controlURL = controlURL
	m.logger.Debug("browser connected",
		zap.String("control_url", controlURL),
		zap.Bool("launched", l != nil))
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// NewPage opens a blank page and subscribes onConsole to its console before
// anything is loaded, so messages printed during load are not lost.
func (m *SessionManager) NewPage(ctx context.Context, onConsole func(ConsoleMessage)) (*Page, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotStarted
	}

	rp, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(rp); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}

	p := newPage(m, rp, onConsole)
	p.meta = Session{
		ID:        uuid.NewString(),
		TargetID:  string(rp.TargetID),
		Status:    "blank",
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.pages[p.meta.ID] = p
	m.mu.Unlock()

	p.startEventStream(ctx)
	return p, nil
}

func (m *SessionManager) forget(id string) {
	m.mu.Lock()
	delete(m.pages, id)
	m.mu.Unlock()
}

// Shutdown closes tracked pages and, if we launched it, the browser.
// A browser reached through DebuggerURL is left running.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.closeLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *SessionManager) closeLocked() error {
	var err error
	if m.browser != nil && m.launcher != nil {
		err = m.browser.Close()
		m.launcher.Cleanup()
	}
	m.browser = nil
	m.launcher = nil
	m.controlURL = ""
	m.pages = make(map[string]*Page)
	return err
}
