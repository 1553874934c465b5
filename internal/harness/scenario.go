package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/namegraph/internal/engine"
	"github.com/roach88/namegraph/internal/entity"
)

// Scenario is an event stream with assertions on the state it produces.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is a CUE manifest path, relative to the scenario file.
	// Empty means the embedded mainnet manifest.
	Manifest string `yaml:"manifest,omitempty"`

	// Labels are the plaintext labels the healer knows.
	Labels []string `yaml:"labels,omitempty"`

	// Events are processed in order.
	Events []EventStep `yaml:"events"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one event of a scenario.
type EventStep struct {
	// Chain defaults to 1.
	Chain uint64 `yaml:"chain,omitempty"`

	// Block defaults to the previous event's block (1 for the first).
	Block *uint64 `yaml:"block,omitempty"`

	// LogIndex defaults to one past the previous event in the same block,
	// or 0 in a new block.
	LogIndex *uint `yaml:"log_index,omitempty"`

	// Timestamp defaults to a fixed time derived from the block.
	Timestamp uint64 `yaml:"timestamp,omitempty"`

	// Contract is an address or a role alias.
	Contract string `yaml:"contract"`

	// Event is the event name, e.g. "NewOwner".
	Event string `yaml:"event"`

	// Args are the decoded event arguments.
	Args map[string]any `yaml:"args"`

	// ExpectError is the error code the event must fail with, e.g.
	// "INVARIANT_VIOLATION". A failing event is rolled back and the scenario
	// continues with the next one.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event and Outcome select trace entries (trace_contains, trace_count).
	Event   string `yaml:"event,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Entity is an entity kind, e.g. "domain" (entity, absent, count).
	Entity string `yaml:"entity,omitempty"`

	// ID selects a row. "namehash:" and "labelhash:" segments are expanded,
	// so a resolver row may be written "0x...-namehash:alice.eth".
	ID string `yaml:"id,omitempty"`

	// Name selects a domain row by name. Shorthand for ID "namehash:<name>".
	Name string `yaml:"name,omitempty"`

	// Expect holds the expected field values, by JSON field name. Only the
	// listed fields are compared.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matches (trace_count, count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertEntity        = "entity"
	AssertAbsent        = "absent"
	AssertCount         = "count"
)

// LoadScenario reads and parses a scenario YAML file. A relative manifest
// path is resolved against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Manifest != "" && !filepath.IsAbs(s.Manifest) {
		s.Manifest = filepath.Join(filepath.Dir(path), s.Manifest)
	}
	if s.Manifest != "" {
		if _, err := os.Stat(s.Manifest); err != nil {
			return nil, fmt.Errorf("invalid scenario: manifest not found: %s", s.Manifest)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Events {
		if step.Contract == "" {
			return fmt.Errorf("events[%d]: contract is required", i)
		}
		if step.Event == "" {
			return fmt.Errorf("events[%d]: event is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("events[%d]: args is required (use empty map if no args)", i)
		}
		switch engine.ErrorCode(step.ExpectError) {
		case "", engine.ErrCodeDecodeFailed, engine.ErrCodeInvariantViolation,
			engine.ErrCodeHealingFailed, engine.ErrCodeStoreFailed:
		default:
			return fmt.Errorf("events[%d]: unknown error code %q", i, step.ExpectError)
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
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertEntity, AssertAbsent:
		if err := validateKind(index, a.Entity); err != nil {
			return err
		}
		if (a.ID == "") == (a.Name == "") {
			return fmt.Errorf("assertions[%d]: exactly one of id or name is required for %s", index, a.Type)
		}
		if a.Name != "" && a.Entity != string(entity.KindDomain) {
			return fmt.Errorf("assertions[%d]: name selects domains only", index)
		}
		if a.Type == AssertEntity && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity", index)
		}
	case AssertCount:
		if err := validateKind(index, a.Entity); err != nil {
			return err
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validateKind(index int, kind string) error {
	for _, k := range entity.Kinds {
		if string(k) == kind {
			return nil
		}
	}
	return fmt.Errorf("assertions[%d]: unknown entity %q", index, kind)
}
