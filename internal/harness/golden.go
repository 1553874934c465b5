package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/namegraph/internal/canonical"
)

// Snapshot is the part of a result compared against golden files: the
// trace and the final domain tree. Row counts are left out so that adding a
// bookkeeping row does not churn every golden file.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Tree         string
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"block":     ev.Block,
			"log_index": ev.LogIndex,
			"contract":  ev.Contract,
			"event":     ev.Event,
			"outcome":   ev.Outcome,
		}
		if ev.Code != "" {
			m["code"] = ev.Code
		}
		traceList[i] = m
	}

	lines := strings.Split(strings.TrimSuffix(s.Tree, "\n"), "\n")
	tree := make([]any, len(lines))
	for i, l := range lines {
		tree[i] = l
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"tree":          tree,
	}
}

// Marshal renders the snapshot as canonical JSON followed by a newline.
func (s *Snapshot) Marshal() ([]byte, error) {
	b, err := canonical.Marshal(s.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snap := Snapshot{ScenarioName: scenarioName, Trace: result.Trace, Tree: result.Tree}
	data, err := snap.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
