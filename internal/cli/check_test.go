package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Passes(t *testing.T) {
	stdout, stderr, code := execute(t, "check", "../harness/testdata/scenarios")
	require.Equal(t, ExitSuccess, code, "stdout: %s\nstderr: %s", stdout, stderr)
	assert.Contains(t, stdout, "✓ register")
	assert.Contains(t, stdout, "✓ migration")
	assert.Contains(t, stdout, "3 passed, 0 failed, 3 total")
}

func TestCheck_Fails(t *testing.T) {
	stdout, stderr, code := execute(t, "check", "testdata/bad_scenario.yaml", "../harness/testdata/scenarios/migration.yaml")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ wrong-owner")
	assert.Contains(t, stdout, "owner_id")
	assert.Contains(t, stdout, "1 passed, 1 failed, 2 total")
	assert.Contains(t, stderr, "1 of 2 scenarios failed")
}

func TestCheck_JSON(t *testing.T) {
	stdout, _, code := execute(t, "check", "--format", "json", "testdata/bad_scenario.yaml")
	assert.Equal(t, ExitFailure, code)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "wrong-owner", resp.Data.Scenarios[0].Name)
	assert.False(t, resp.Data.Scenarios[0].Result.Pass)
}

func TestCheck_MissingScenario(t *testing.T) {
	_, stderr, code := execute(t, "check", "testdata/nope.yaml")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "does not exist")
}
