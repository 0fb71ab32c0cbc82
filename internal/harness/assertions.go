package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, formatEvent(event))
	}

	return buf.String()
}

func formatEvent(ev TraceEvent) string {
	if ev.Type == EventMatch {
		return fmt.Sprintf("seq=%d match %v spread=%d", ev.Seq, ev.Stamps, ev.Spread)
	}
	return fmt.Sprintf("seq=%d %s %s@%d", ev.Seq, ev.Type, ev.Stream, ev.Stamp)
}

// EvaluateAssertions checks every assertion against the result's trace and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result.Trace, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertMatchCount:
		return assertMatchCount(trace, a)
	case AssertMatchAt:
		return assertMatchAt(trace, a)
	case AssertDropContains:
		return assertContains(trace, EventDrop, a)
	case AssertDropCount:
		return assertDropCount(trace, a)
	case AssertRejected:
		return assertContains(trace, EventRejected, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertMatchCount(trace []TraceEvent, a Assertion) error {
	got := countEvents(trace, EventMatch, "")
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertMatchCount,
		Expected: fmt.Sprintf("%d matches", a.Count),
		Actual:   fmt.Sprintf("%d matches", got),
		Trace:    trace,
	}
}

// assertMatchAt checks the stamps of the Index-th match (0-based).
func assertMatchAt(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Type != EventMatch {
			continue
		}
		if n == a.Index {
			if slices.Equal(ev.Stamps, a.Stamps) {
				return nil
			}
			return &AssertionError{
				Type:     AssertMatchAt,
				Expected: fmt.Sprintf("match #%d with stamps %v", a.Index, a.Stamps),
				Actual:   fmt.Sprintf("stamps %v", ev.Stamps),
				Trace:    trace,
			}
		}
		n++
	}
	return &AssertionError{
		Type:     AssertMatchAt,
		Expected: fmt.Sprintf("match #%d with stamps %v", a.Index, a.Stamps),
		Actual:   fmt.Sprintf("only %d matches", n),
		Trace:    trace,
	}
}

// assertContains checks for an event of eventType on a.Stream at a.Stamp.
func assertContains(trace []TraceEvent, eventType string, a Assertion) error {
	for _, ev := range trace {
		if ev.Type == eventType && ev.Stream == a.Stream && ev.Stamp == *a.Stamp {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s event for %s@%d", eventType, a.Stream, *a.Stamp),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertDropCount(trace []TraceEvent, a Assertion) error {
	got := countEvents(trace, EventDrop, a.Stream)
	if got == a.Count {
		return nil
	}
	scope := "drops"
	if a.Stream != "" {
		scope = "drops on " + a.Stream
	}
	return &AssertionError{
		Type:     AssertDropCount,
		Expected: fmt.Sprintf("%d %s", a.Count, scope),
		Actual:   fmt.Sprintf("%d %s", got, scope),
		Trace:    trace,
	}
}

// countEvents counts events of a type, restricted to stream when non-empty.
func countEvents(trace []TraceEvent, eventType, stream string) int {
	n := 0
	for _, ev := range trace {
		if ev.Type == eventType && (stream == "" || ev.Stream == stream) {
			n++
		}
	}
	return n
}
