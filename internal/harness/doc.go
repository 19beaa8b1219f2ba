// Package harness provides conformance testing for the coordination
// runtime.
//
// The harness runs scripted scenarios against a real instance: every
// step goes through the foreground API (Submit, Undo, Redo), lands in
// an in-memory operation log, and its broadcasts are captured by a
// recording distributor. Assertions then validate the final history
// and the broadcast record.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	steps:
//	  - submit:
//	      kind: insert
//	      path: notes/plan.txt
//	      line: 1
//	      column: 1
//	      content: "draft"
//	  - undo: true
//	  - redo: true
//	  - submit:
//	      kind: insert
//	      path: notes/plan.txt
//	      line: 0
//	      column: 0
//	      content: "bad position"
//	    expect_error: invalid_operation
//	assertions:
//	  - type: history_length
//	    count: 2
//	  - type: history_contains
//	    kind: insert
//	    path: notes/plan.txt
//	    undone: false
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - history_length: Verifies the total number of retained log entries
//   - active_length: Verifies the number of entries not flagged undone
//   - distributed_count: Verifies the number of broadcast operations
//   - history_contains: Verifies an entry matching the given fields exists
//   - distribution_order: Verifies broadcast kinds appear in order
//
// # Deterministic Testing
//
// All scenarios execute with a deterministic clock and a fixed instance
// identifier to ensure reproducible results and golden snapshot
// comparison.
//
// The harness uses:
//   - Fixed instance id (from scenario.instance_id or "tandem-harness")
//   - Deterministic commit stamps (testutil.DeterministicClock)
//   - In-memory SQLite database (isolated per scenario)
//   - A sync interval long enough that the background loop never ticks
//
// This ensures identical run records across runs for golden file
// comparison.
//
// # Usage
//
// Load a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/undo.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Execute it:
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
