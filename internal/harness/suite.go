package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure records one failed scenario.
type ScenarioFailure struct {
	ScenarioName string `json:"scenario_name,omitempty"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// RunDir loads every *.yaml scenario under dir and runs each one.
// Files are processed in name order so suite output is stable. Returns
// an error only when the directory itself is unusable; individual
// scenario failures land in the result.
func RunDir(dir string) (*SuiteResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		// Glob stays silent on a missing directory; make that case loud.
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("scenario directory: %w", statErr)
		}
	}
	sort.Strings(paths)

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				ScenarioPath: path,
				Error:        fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		result, err := Run(scenario)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				ScenarioName: scenario.Name,
				ScenarioPath: path,
				Error:        fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}

		if !result.Pass {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				ScenarioName: scenario.Name,
				ScenarioPath: path,
				Error:        fmt.Sprintf("scenario assertions failed: %v", result.Errors),
			})
			continue
		}

		suite.Passed++
	}

	return suite, nil
}
