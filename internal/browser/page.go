package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"pagerun/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// flushPrefix marks the console.debug barrier used by Flush.
const flushPrefix = "__pagerun_flush:"

// ConsoleMessage is one console API call made by the page.
type ConsoleMessage struct {
	Level string // log, info, warning, error, debug, ...
	Text  string
	Time  time.Time
}

// Page is a single tracked browser tab.
type Page struct {
	mgr        *SessionManager
	page       *rod.Page
	logger     *zap.Logger
	consoleLog *zap.Logger
	onConsole  func(ConsoleMessage)

	mu   sync.Mutex
	meta Session

	flushMu      sync.Mutex
	flushWaiters map[string]chan struct{}
	emitFlush    func(ctx context.Context, token string) error

	stopEvents context.CancelFunc
	eventsDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func newPage(mgr *SessionManager, rp *rod.Page, onConsole func(ConsoleMessage)) *Page {
	if onConsole == nil {
		onConsole = func(ConsoleMessage) {}
	}
	p := &Page{
		mgr:          mgr,
		page:         rp,
		logger:       mgr.logger,
		consoleLog:   logging.Get(logging.CategoryConsole),
		onConsole:    onConsole,
		flushWaiters: make(map[string]chan struct{}),
		eventsDone:   make(chan struct{}),
	}
	p.emitFlush = func(ctx context.Context, token string) error {
		_, err := p.Eval(ctx, `(token) => console.debug(token)`, token)
		return err
	}
	return p
}

// consoleTime converts a CDP timestamp, milliseconds since the epoch.
func consoleTime(ts proto.RuntimeTimestamp) time.Time {
	return time.Unix(0, int64(float64(ts)*float64(time.Millisecond)))
}

// Session returns a copy of the page metadata.
func (p *Page) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta
}

func (p *Page) setStatus(url, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url != "" {
		p.meta.URL = url
	}
	p.meta.Status = status
}

// startEventStream wires the page console and uncaught exceptions.
// rod delivers events for one page sequentially, so console order is kept.
func (p *Page) startEventStream(ctx context.Context) {
	evCtx, cancel := context.WithCancel(ctx)
	p.stopEvents = cancel

	wait := p.page.Context(evCtx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			text := stringifyConsoleArgs(ev.Args)
			if ev.Type == proto.RuntimeConsoleAPICalledTypeDebug && p.releaseFlush(text) {
				return
			}
			msg := ConsoleMessage{
				Level: string(ev.Type),
				Text:  text,
				Time:  consoleTime(ev.Timestamp),
			}
			p.consoleLog.Debug(msg.Text, zap.String("level", msg.Level))
			p.onConsole(msg)
		},
		func(ev *proto.RuntimeExceptionThrown) {
			if ev.ExceptionDetails == nil {
				return
			}
			desc := ev.ExceptionDetails.Text
			if ev.ExceptionDetails.Exception != nil && ev.ExceptionDetails.Exception.Description != "" {
				desc = ev.ExceptionDetails.Exception.Description
			}
			p.logger.Warn("uncaught page exception",
				zap.String("url", ev.ExceptionDetails.URL),
				zap.Int("line", ev.ExceptionDetails.LineNumber),
				zap.String("description", desc))
		},
	)

	go func() {
		defer close(p.eventsDone)
		wait()
	}()
}

// Navigate loads url and waits for the load event. Any error means the page
// failed to open: DNS, refused connection, missing file or timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.mgr.cfg.GetNavigationTimeout())
	defer pg.CancelTimeout()

	p.setStatus(url, "loading")
	if err := pg.Navigate(url); err != nil {
		p.setStatus("", "load_failed")
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		p.setStatus("", "load_failed")
		return fmt.Errorf("wait for load %s: %w", url, err)
	}
	p.setStatus("", "loaded")
	return nil
}

// Eval runs a JavaScript function expression in the page with args and
// returns its result as plain Go values.
func (p *Page) Eval(ctx context.Context, js string, args ...interface{}) (interface{}, error) {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return nil, err
	}
	return remoteValue(res), nil
}

// RunTests calls entryPoint once and returns window[resultVar].
// entryPoint must already be validated as a dotted identifier path.
func (p *Page) RunTests(ctx context.Context, entryPoint, resultVar string) (interface{}, error) {
	js := fmt.Sprintf(`(resultVar) => { %s(); return window[resultVar]; }`, entryPoint)
	p.setStatus("", "evaluating")
	v, err := p.Eval(ctx, js, resultVar)
	if err != nil {
		p.setStatus("", "evaluation_failed")
		return nil, fmt.Errorf("run %s: %w", entryPoint, err)
	}
	p.setStatus("", "evaluated")
	return v, nil
}

// Flush logs a unique barrier token through the page console and waits until
// the event stream delivers it. Console calls made before Flush have then
// been handed to onConsole. The whole barrier, including the call into a page
// whose main thread may still be busy, is bounded by timeout.
func (p *Page) Flush(ctx context.Context, timeout time.Duration) error {
	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token := flushPrefix + uuid.NewString()
	done := make(chan struct{})

	p.flushMu.Lock()
	p.flushWaiters[token] = done
	p.flushMu.Unlock()
	defer func() {
		p.flushMu.Lock()
		delete(p.flushWaiters, token)
		p.flushMu.Unlock()
	}()

	if err := p.emitFlush(flushCtx, token); err != nil {
		return flushErr(ctx, fmt.Errorf("flush console: %w", err))
	}

	select {
	case <-done:
		return nil
	case <-flushCtx.Done():
		return flushErr(ctx, flushCtx.Err())
	}
}

// flushErr reports ErrFlushTimeout when the barrier's own deadline expired
// and the caller's context is still live.
func flushErr(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ErrFlushTimeout
	}
	return err
}

// releaseFlush reports whether text was a pending flush token.
func (p *Page) releaseFlush(text string) bool {
	if !strings.HasPrefix(text, flushPrefix) {
		return false
	}
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	if ch, ok := p.flushWaiters[text]; ok {
		close(ch)
		delete(p.flushWaiters, text)
	}
	return true
}

// Close stops the event stream and closes the tab. Safe to call twice.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if p.stopEvents != nil {
			p.stopEvents()
			<-p.eventsDone
		}
		p.setStatus("", "closed")
		p.mgr.forget(p.Session().ID)
		if err := p.page.Close(); err != nil {
			p.closeErr = fmt.Errorf("close page: %w", err)
		}
	})
	return p.closeErr
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.UnserializableValue != "" {
			parts = append(parts, string(a.UnserializableValue))
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
			continue
		}
		switch {
		case a.Type == proto.RuntimeRemoteObjectTypeUndefined:
			parts = append(parts, "undefined")
		case a.Subtype == proto.RuntimeRemoteObjectSubtypeNull:
			parts = append(parts, "null")
		}
	}
	return strings.Join(parts, " ")
}

// remoteValue converts an evaluation result to plain Go values.
// NaN and the infinities come back as their string form; -0 is a number.
func remoteValue(res *proto.RuntimeRemoteObject) interface{} {
	if res == nil {
		return nil
	}
	if res.UnserializableValue != "" {
		if res.UnserializableValue == "-0" {
			return math.Copysign(0, -1)
		}
		return string(res.UnserializableValue)
	}
	if res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return nil
	}
	return res.Value.Val()
}
