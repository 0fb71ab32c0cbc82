// Package harness provides conformance testing for stampsync topologies.
//
// The harness loads YAML scenarios, drives them through a real engine and
// checks the resulting trace of arrivals, rejections, matches and drops.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: ros_example_1
//	description: "What this scenario validates"
//	topology:
//	  delta_t: 0
//	  reorder_window: 0
//	  streams: [s0, s1, s2, s3]
//	flow:
//	  - add: {stream: s2, stamp: 10}
//	  - add: {stream: s3, stamp: 13, payload: {frame: 1}}
//	    expect_match: [11, 12, 10, 13]
//	assertions:
//	  - type: match_count
//	    count: 7
//	  - type: drop_contains
//	    stream: s3
//	    stamp: 26
//
// Instead of an inline topology a scenario may reference a CUE file with
// spec and pick one of its topologies with topology_name. Relative spec
// paths resolve against the scenario's directory.
//
// # Step Expectations
//
//   - expect_match: stamps, in stream order, of the first set matched by the step
//   - expect_no_match: the step matched nothing
//   - expect_rejected: the step's sample was rejected on insertion
//
// With a reorder window, samples reach the synchronizer later than the step
// that submitted them, so step expectations apply to what was released.
//
// # Assertion Types
//
//   - match_count: exactly count matches
//   - match_at: match number index (0-based) has the given stamps
//   - drop_contains: the sample stream@stamp was dropped
//   - drop_count: exactly count drops, on stream if given
//   - rejected: the sample stream@stamp was rejected
//
// # Deterministic Testing
//
// The harness uses:
//   - Fixed run IDs (from scenario.run_id or testutil.DefaultRunID)
//   - Deterministic logical clock (testutil.DeterministicClock)
//   - In-memory SQLite database (isolated per test)
//
// This ensures identical traces across runs for golden file comparison.
// After the flow the reorder buffer is flushed and the engine counters are
// cross-checked against the stored run.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/ros_example_1.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
