package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the full trace so failures are debuggable from the message
// alone.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s actor=%s entity=%s path=%s %s\n",
			ev.Seq, ev.Event, ev.Actor, ev.Entity, ev.Path, ev.Detail)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages. An empty slice means everything held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.Final, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains checks that an event with matching fields appears in
// the trace. Fields are a subset match.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Event == a.Event && matchFields(ev, a.Fields) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s with fields %v", a.Event, a.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events appear in the given order.
// Events don't need to be consecutive; intervening events are allowed.
// Repeated event names match successive occurrences.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Event == a.Events[next] {
			next++
		}
	}

	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("events in order: %v", a.Events),
			Actual:   fmt.Sprintf("matched %d of %d, stuck at %q", next, len(a.Events), a.Events[next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks that an event appears exactly N times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Event == a.Event && matchFields(ev, a.Fields) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("event %s exactly %d times", a.Event, a.Count),
			Actual:   fmt.Sprintf("found %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks final engine stats against expected values.
// Only the stats named in Expect are compared.
func assertFinalState(final map[string]int, trace []TraceEvent, a Assertion) error {
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actual, ok := final[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("stat %q present", key),
				Actual:   fmt.Sprintf("unknown stat; have %v", statNames(final)),
				Trace:    trace,
			}
		}
		if actual != a.Expect[key] {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s == %d", key, a.Expect[key]),
				Actual:   fmt.Sprintf("%s == %d", key, actual),
				Trace:    trace,
			}
		}
	}
	return nil
}

// matchFields checks expected trace fields by name, subset semantics.
func matchFields(ev TraceEvent, fields map[string]string) bool {
	for name, want := range fields {
		var got string
		switch name {
		case "actor":
			got = ev.Actor
		case "entity":
			got = ev.Entity
		case "path":
			got = ev.Path
		case "detail":
			got = ev.Detail
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

func statNames(final map[string]int) []string {
	names := make([]string, 0, len(final))
	for k := range final {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
