package harness

import (
	"encoding/json"
	"strconv"
	"time"
)

// Process exit codes. CI distinguishes a broken harness (1) from failing
// tests (100).
const (
	ExitSuccess     = 0
	ExitLoadFailed  = 1
	ExitUsage       = 2
	ExitTestsFailed = 100
)

// Outcome is the result of one run.
type Outcome struct {
	Target       string // argument as given
	URL          string // URL actually navigated to
	State        State
	ExitCode     int
	Failures     interface{} // raw value of the result variable, nil if never read
	Err          error
	ConsoleLines int
	Trace        []State
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns the wall time of the run.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Passed reports whether every test passed.
func (o Outcome) Passed() bool {
	return o.ExitCode == ExitSuccess
}

// ExitCodeFor maps the value read back from the page to an exit code.
// Only a number exactly equal to zero is success. Missing, null, negative,
// fractional, non-numeric and NaN values, and evaluation errors, all fail.
func ExitCodeFor(failures interface{}, evalErr error) int {
	if evalErr != nil {
		return ExitTestsFailed
	}
	if isZero(failures) {
		return ExitSuccess
	}
	return ExitTestsFailed
}

func isZero(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return n == 0
	case float32:
		return n == 0
	case int:
		return n == 0
	case int64:
		return n == 0
	case int32:
		return n == 0
	case json.Number:
		f, err := n.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}

// FailureCount returns the value as a whole, non-negative count when it is one.
func FailureCount(v interface{}) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// FormatFailures renders the raw value for logs and the history table.
func FormatFailures(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return "missing"
	case string:
		return strconv.Quote(n)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return "unrepresentable"
}
