package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails. It includes
// detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	// Full trace for context
	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		if event.Kind != "" {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", i+1, event.Type, event.Kind, event.Path)
		} else {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event.Type)
		}
	}

	return buf.String()
}

// assertHistoryLength checks the total number of retained log entries.
func assertHistoryLength(result *Result, assertion Assertion) error {
	if len(result.History) != assertion.Count {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d log entries", assertion.Count),
			Actual:   fmt.Sprintf("%d log entries", len(result.History)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertActiveLength checks the number of entries not flagged undone.
func assertActiveLength(result *Result, assertion Assertion) error {
	active := result.ActiveCount()
	if active != assertion.Count {
		return &AssertionError{
			Type:     AssertActiveLength,
			Expected: fmt.Sprintf("%d active entries", assertion.Count),
			Actual:   fmt.Sprintf("%d active entries", active),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertDistributedCount checks the number of broadcast operations.
func assertDistributedCount(result *Result, assertion Assertion) error {
	if len(result.Distributed) != assertion.Count {
		return &AssertionError{
			Type:     AssertDistributedCount,
			Expected: fmt.Sprintf("%d broadcasts", assertion.Count),
			Actual:   fmt.Sprintf("%d broadcasts", len(result.Distributed)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertHistoryContains checks if the final history holds an entry
// matching the assertion's fields (subset semantics).
func assertHistoryContains(result *Result, assertion Assertion) error {
	for _, row := range result.History {
		if assertion.Kind != "" && row.Kind != assertion.Kind {
			continue
		}
		if assertion.Path != "" && row.Path != assertion.Path {
			continue
		}
		if assertion.Undone != nil && row.Undone != *assertion.Undone {
			continue
		}
		if assertion.Redone != nil && row.Redone != *assertion.Redone {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertHistoryContains,
		Expected: describeHistoryMatch(assertion),
		Actual:   "no matching log entry",
		Trace:    result.Trace,
	}
}

// describeHistoryMatch renders the subset conditions of a
// history_contains assertion for failure messages.
func describeHistoryMatch(a Assertion) string {
	var parts []string
	if a.Kind != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", a.Kind))
	}
	if a.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", a.Path))
	}
	if a.Undone != nil {
		parts = append(parts, fmt.Sprintf("undone=%t", *a.Undone))
	}
	if a.Redone != nil {
		parts = append(parts, fmt.Sprintf("redone=%t", *a.Redone))
	}
	return "entry with " + strings.Join(parts, " ")
}

// assertDistributionOrder checks that broadcasts with the given kinds
// appear in order. Matches form a subsequence: intervening broadcasts
// are allowed.
func assertDistributionOrder(result *Result, assertion Assertion) error {
	next := 0
	for _, row := range result.Distributed {
		if next < len(assertion.Kinds) && row.Kind == assertion.Kinds[next] {
			next++
		}
	}
	if next != len(assertion.Kinds) {
		got := make([]string, 0, len(result.Distributed))
		for _, row := range result.Distributed {
			got = append(got, row.Kind)
		}
		return &AssertionError{
			Type:     AssertDistributionOrder,
			Expected: fmt.Sprintf("broadcasts in order: %v", assertion.Kinds),
			Actual:   fmt.Sprintf("broadcast kinds %v (first %d matched)", got, next),
			Trace:    result.Trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertHistoryLength:
			err = assertHistoryLength(result, assertion)
		case AssertActiveLength:
			err = assertActiveLength(result, assertion)
		case AssertDistributedCount:
			err = assertDistributedCount(result, assertion)
		case AssertHistoryContains:
			err = assertHistoryContains(result, assertion)
		case AssertDistributionOrder:
			err = assertDistributionOrder(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
