package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tandemlabs/tandem/internal/op"
)

// Scenario defines a conformance test scenario. Scenarios script the
// foreground API of one instance and assert on the resulting history
// and broadcast record.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the golden
	// file name for snapshot comparison.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// InstanceID pins the instance identifier for the run. Empty
	// defaults to "tandem-harness" for deterministic golden files.
	InstanceID string `yaml:"instance_id,omitempty"`

	// MaxHistory bounds the operation log for the run. Zero or less
	// falls back to the configured default. Small values exercise
	// history pruning.
	MaxHistory int `yaml:"max_history,omitempty"`

	// Steps contains the scripted actions, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final history and broadcast record.
	// Supported types: history_length, active_length, distributed_count,
	// history_contains, distribution_order.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action. Exactly one of Submit, Undo, or Redo
// must be set.
type Step struct {
	// Submit carries the operation to submit.
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Undo reverses the newest active log entry.
	Undo bool `yaml:"undo,omitempty"`

	// Redo reapplies the most recently undone entry.
	Redo bool `yaml:"redo,omitempty"`

	// ExpectError names the failure this step must produce:
	// "invalid_operation", "no_operation_to_undo", or
	// "no_operation_to_redo". Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// SubmitStep describes one operation to submit.
type SubmitStep struct {
	// Kind is the operation kind name: insert, delete, replace, meta,
	// or resource.
	Kind string `yaml:"kind"`

	// Path is the project-relative file path the operation targets.
	Path string `yaml:"path"`

	// Line and Column give the 1-based position for positional kinds.
	Line   int `yaml:"line,omitempty"`
	Column int `yaml:"column,omitempty"`

	// Content is the operation payload.
	Content string `yaml:"content,omitempty"`

	// Prev is the replaced payload; required for replace.
	Prev string `yaml:"prev,omitempty"`
}

// Assertion validates the final history or broadcast record.
type Assertion struct {
	// Type selects the assertion:
	// - "history_length": total retained log entries equals Count
	// - "active_length": entries not flagged undone equals Count
	// - "distributed_count": broadcast operations equals Count
	// - "history_contains": an entry matching the given fields exists
	// - "distribution_order": broadcast Kinds appear in order
	Type string `yaml:"type"`

	// Count is the expected size (history_length, active_length,
	// distributed_count).
	Count int `yaml:"count,omitempty"`

	// Kind and Path match log entry fields (history_contains).
	// Subset semantics: unset fields match anything.
	Kind string `yaml:"kind,omitempty"`
	Path string `yaml:"path,omitempty"`

	// Undone and Redone match log entry flags (history_contains).
	Undone *bool `yaml:"undone,omitempty"`
	Redone *bool `yaml:"redone,omitempty"`

	// Kinds is the expected broadcast kind order (distribution_order).
	// Matches form a subsequence: intervening broadcasts are allowed.
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertHistoryLength     = "history_length"
	AssertActiveLength      = "active_length"
	AssertDistributedCount  = "distributed_count"
	AssertHistoryContains   = "history_contains"
	AssertDistributionOrder = "distribution_order"
)

// LoadScenario reads and parses a scenario YAML file. Returns an error
// if the file doesn't exist, is malformed, contains unknown fields
// (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that a step names exactly one action and that an
// expect_error, when present, is a known failure name.
func validateStep(index int, s *Step) error {
	actions := 0
	if s.Submit != nil {
		actions++
	}
	if s.Undo {
		actions++
	}
	if s.Redo {
		actions++
	}
	if actions == 0 {
		return fmt.Errorf("steps[%d]: one of submit, undo, or redo is required", index)
	}
	if actions > 1 {
		return fmt.Errorf("steps[%d]: submit, undo, and redo are mutually exclusive", index)
	}

	if s.Submit != nil {
		if s.Submit.Kind == "" {
			return fmt.Errorf("steps[%d].submit: kind is required", index)
		}
		if _, err := op.ParseKind(s.Submit.Kind); err != nil {
			return fmt.Errorf("steps[%d].submit: %w", index, err)
		}
		if s.Submit.Path == "" {
			return fmt.Errorf("steps[%d].submit: path is required", index)
		}
	}

	if s.ExpectError != "" {
		if _, ok := expectableErrors[s.ExpectError]; !ok {
			return fmt.Errorf("steps[%d]: unknown expect_error %q", index, s.ExpectError)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertHistoryLength, AssertActiveLength, AssertDistributedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertHistoryContains:
		if a.Kind == "" && a.Path == "" && a.Undone == nil && a.Redone == nil {
			return fmt.Errorf("assertions[%d]: history_contains needs at least one of kind, path, undone, redone", index)
		}
		if a.Kind != "" {
			if _, err := op.ParseKind(a.Kind); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertDistributionOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for distribution_order", index)
		}
		for _, kind := range a.Kinds {
			if _, err := op.ParseKind(kind); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
