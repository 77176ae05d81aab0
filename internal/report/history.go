package report

import (
	"fmt"
	"io"
	"time"

	"pagerun/internal/store"

	"github.com/charmbracelet/lipgloss"
)

const historyTimeLayout = "2006-01-02 15:04:05"

// WriteHistory prints runs newest first, one per line.
func WriteHistory(w io.Writer, runs []store.Run) {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true)
	pass := r.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	fail := r.NewStyle().Foreground(lipgloss.Color("#e53935"))
	dim := r.NewStyle().Faint(true)

	if len(runs) == 0 {
		fmt.Fprintln(w, dim.Render("No runs recorded."))
		return
	}

	fmt.Fprintln(w, header.Render(fmt.Sprintf("%-19s  %-4s  %-11s  %-8s  %9s  %s",
		"FINISHED", "EXIT", "STATE", "FAILURES", "DURATION", "TARGET")))
	for _, run := range runs {
		code := fmt.Sprintf("%-4d", run.ExitCode)
		if run.ExitCode == 0 {
			code = pass.Render(code)
		} else {
			code = fail.Render(code)
		}
		fmt.Fprintf(w, "%-19s  %s  %-11s  %-8s  %9s  %s\n",
			run.FinishedAt.Local().Format(historyTimeLayout),
			code,
			run.FinalState,
			run.Failures,
			run.Duration().Round(time.Millisecond),
			run.Target)
		if run.Error != "" {
			fmt.Fprintln(w, dim.Render("    "+run.Error))
		}
	}
}
