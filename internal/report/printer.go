// Package report writes the harness status lines and the mirrored page
// console to stdout.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Status lines. CI log scrapers match on these, so they are stable.
const (
	MsgSucceeded = "Tests succeeded."
	MsgFailed    = "*** Tests failed! ***"
	MsgRunning   = "Running test."
)

// Printer serializes status lines and console lines onto one writer.
// After Close every write is dropped.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	closed bool
	lines  int

	info    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
}

// NewPrinter creates a Printer. Styling is applied only when out is a
// terminal; pipes and files receive plain text.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		info:    r.NewStyle().Faint(true),
		success: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935")),
	}
}

func (p *Printer) writeLine(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	fmt.Fprintln(p.out, s)
}

// Loading announces the target before navigation.
func (p *Printer) Loading(target string) {
	p.writeLine(p.info.Render("Loading URL: " + target))
}

// OpenFailed reports a load failure.
func (p *Printer) OpenFailed(target string) {
	p.writeLine(p.failure.Render("Failed to open " + target))
}

// Running announces the evaluation.
func (p *Printer) Running() {
	p.writeLine(p.info.Render(MsgRunning))
}

// Succeeded reports a zero failure count.
func (p *Printer) Succeeded() {
	p.writeLine(p.success.Render(MsgSucceeded))
}

// Failed reports any other outcome of an evaluated page.
func (p *Printer) Failed() {
	p.writeLine(p.failure.Render(MsgFailed))
}

// Console mirrors one page console message verbatim.
func (p *Printer) Console(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.lines++
	fmt.Fprintln(p.out, text)
}

// ConsoleLines returns how many console messages were mirrored.
func (p *Printer) ConsoleLines() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}

// Close stops all further output.
func (p *Printer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
