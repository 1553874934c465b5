package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ingestedDB returns a database holding testdata/events.yaml with labels
// healed.
func ingestedDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "names.db")
	_, code := ingest(t, "--db", db, "--heal-url", rainbow(t, "eth", "alice"), "testdata/events.yaml")
	require.Equal(t, ExitSuccess, code)
	return db
}

func TestInspectDomain(t *testing.T) {
	db := ingestedDB(t)

	stdout, stderr, code := execute(t, "inspect", "domain", "alice.eth", "--events", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var resp struct {
		Data DomainView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	d := resp.Data
	assert.Equal(t, "0x787192fc5378cc32aa956ddfdedbf26b24e8d78e40109add0eea2c1a012c3dec", d.ID)
	require.NotNil(t, d.Name)
	assert.Equal(t, "alice.eth", *d.Name)
	assert.Equal(t, "0x0000000000000000000000000000000000000a11", d.OwnerID)
	require.Len(t, d.Events, 1)
	assert.Equal(t, "NewOwner", d.Events[0].Name)
	assert.Equal(t, uint64(100), d.Events[0].BlockNumber)
}

func TestInspectDomain_ByNode(t *testing.T) {
	db := ingestedDB(t)

	stdout, _, code := execute(t, "inspect", "domain",
		"0x93CDEB708B7545DC668EB9280176169D1C33CFD8ED6F04690A0BCC88A93FC4AE", "--db", db)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, `"name": "eth"`)
	assert.Contains(t, stdout, `"subdomain_count": 1`)
}

func TestInspect_NotFound(t *testing.T) {
	db := ingestedDB(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"domain", "bob.eth"}, "domain bob.eth not found"},
		{[]string{"registration", "alice.eth"}, "registration alice.eth not found"},
		{[]string{"resolver", "0x01-0x02"}, "resolver 0x01-0x02 not found"},
		{[]string{"label", "1-0xab-1"}, "label 1-0xab-1 not found"},
		{[]string{"tree", "bob.eth"}, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			args := append([]string{"inspect"}, tt.args...)
			args = append(args, "--db", db, "--format", "json")
			stdout, _, code := execute(t, args...)
			assert.Equal(t, ExitCommandError, code)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, "NOT_FOUND", resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.want)
		})
	}
}

func TestInspectTree_Subtree(t *testing.T) {
	db := ingestedDB(t)

	stdout, _, code := execute(t, "inspect", "tree", "eth", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, []string{
		"eth owner=0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85 subdomains=1 migrated",
		"  alice.eth owner=0x0000000000000000000000000000000000000a11 subdomains=0 migrated",
	}, resp.Data)
}

func TestInspectCounts_Text(t *testing.T) {
	db := ingestedDB(t)

	stdout, _, code := execute(t, "inspect", "counts", "--db", db)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "domain        3\n")
	assert.Contains(t, stdout, "registration  0\n")
}

func TestVersion_Schema(t *testing.T) {
	db := filepath.Join(t.TempDir(), "names.db")

	stdout, _, code := execute(t, "version", "--schema", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data VersionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, Version, resp.Data.Version)
	assert.NotZero(t, resp.Data.Schema)
}
