package report

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_StatusLinesArePlainOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Loading("file:///tests/index.html")
	p.Running()
	p.Succeeded()

	assert.Equal(t,
		"Loading URL: file:///tests/index.html\nRunning test.\nTests succeeded.\n",
		buf.String())
}

func TestPrinter_FailureLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.OpenFailed("http://bad.invalid/")
	p.Failed()

	out := buf.String()
	assert.Contains(t, out, "Failed to open http://bad.invalid/")
	assert.Contains(t, out, "*** Tests failed! ***")
}

func TestPrinter_ConsoleVerbatimAndCounted(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Console("PASS map.setView")
	p.Console("  indented %s stays literal")

	assert.Equal(t, "PASS map.setView\n  indented %s stays literal\n", buf.String())
	assert.Equal(t, 2, p.ConsoleLines())
}

func TestPrinter_CloseDropsOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Console("before")
	p.Close()
	p.Console("after")
	p.Failed()

	assert.Equal(t, "before\n", buf.String())
	assert.Equal(t, 1, p.ConsoleLines())
}

func TestPrinter_ConcurrentWritesKeepWholeLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Console("line-from-page")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 20)
	for _, l := range lines {
		assert.Equal(t, "line-from-page", l)
	}
}
