package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a synchronizer conformance scenario: a topology, an
// ordered flow of arrivals with per-step expectations, and assertions over
// the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Topology declares the streams inline. Exclusive with Spec.
	Topology *TopologyDef `yaml:"topology,omitempty"`

	// Spec is a CUE file declaring topologies, relative to the scenario
	// file. TopologyName selects one of them.
	Spec         string `yaml:"spec,omitempty"`
	TopologyName string `yaml:"topology_name,omitempty"`

	// Flow is the ordered list of arrivals.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace.
	// Supported types: match_count, match_at, drop_contains, drop_count, rejected
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RunID is an optional fixed run ID. Defaults to testutil.DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`
}

// TopologyDef is an inline topology. Streams are listed in index order.
type TopologyDef struct {
	DeltaT        int64    `yaml:"delta_t"`
	ReorderWindow int64    `yaml:"reorder_window"`
	Streams       []string `yaml:"streams"`
}

// FlowStep submits one sample and optionally checks what that step caused.
type FlowStep struct {
	Add *AddStep `yaml:"add"`

	// ExpectMatch lists, in stream order, the stamps of the first set
	// matched while processing this step.
	ExpectMatch []int64 `yaml:"expect_match,omitempty"`

	// ExpectNoMatch requires that this step matched nothing.
	ExpectNoMatch bool `yaml:"expect_no_match,omitempty"`

	// ExpectRejected requires that the sample was rejected on insertion.
	ExpectRejected bool `yaml:"expect_rejected,omitempty"`
}

// AddStep is one arrival.
type AddStep struct {
	Stream  string         `yaml:"stream"`
	Stamp   int64          `yaml:"stamp"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Assertion validates the final trace.
type Assertion struct {
	// Type selects the check:
	// - "match_count": exactly Count matches
	// - "match_at": match number Index has Stamps
	// - "drop_contains": Stream's sample at Stamp was dropped
	// - "drop_count": exactly Count drops, on Stream if set
	// - "rejected": Stream's sample at Stamp was rejected
	Type string `yaml:"type"`

	Count  int     `yaml:"count,omitempty"`
	Index  int     `yaml:"index,omitempty"`
	Stamps []int64 `yaml:"stamps,omitempty"`
	Stream string  `yaml:"stream,omitempty"`
	Stamp  *int64  `yaml:"stamp,omitempty"`
}

// Assertion type constants.
const (
	AssertMatchCount   = "match_count"
	AssertMatchAt      = "match_at"
	AssertDropContains = "drop_contains"
	AssertDropCount    = "drop_count"
	AssertRejected     = "rejected"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// A relative Spec path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) {
		scenario.Spec = filepath.Join(filepath.Dir(path), scenario.Spec)
	}
	if scenario.Spec != "" {
		if _, err := os.Stat(scenario.Spec); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: spec file not found: %s", scenario.Spec)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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

	switch {
	case s.Topology != nil && s.Spec != "":
		return fmt.Errorf("topology and spec are mutually exclusive")
	case s.Topology == nil && s.Spec == "":
		return fmt.Errorf("topology or spec is required")
	case s.Spec != "" && s.TopologyName == "":
		return fmt.Errorf("topology_name is required with spec")
	case s.Topology != nil && len(s.Topology.Streams) == 0:
		return fmt.Errorf("topology.streams must be non-empty")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if step.Add == nil {
			return fmt.Errorf("flow[%d]: add is required", i)
		}
		if step.Add.Stream == "" {
			return fmt.Errorf("flow[%d]: add.stream is required", i)
		}
		if step.ExpectNoMatch && len(step.ExpectMatch) > 0 {
			return fmt.Errorf("flow[%d]: expect_match and expect_no_match are mutually exclusive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
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
	case AssertMatchCount, AssertDropCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertMatchAt:
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative for match_at", index)
		}
		if len(a.Stamps) == 0 {
			return fmt.Errorf("assertions[%d]: stamps is required for match_at", index)
		}
	case AssertDropContains, AssertRejected:
		if a.Stream == "" {
			return fmt.Errorf("assertions[%d]: stream is required for %s", index, a.Type)
		}
		if a.Stamp == nil {
			return fmt.Errorf("assertions[%d]: stamp is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
