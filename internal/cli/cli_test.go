package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--quiet"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeStoreConfig writes a config file that archives rounds to bbolt and
// records runs in sqlite, both under a temp dir.
func writeStoreConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tmsim.toml")
	body := fmt.Sprintf(`name = "Stored"

[storage]
backend = "bbolt"
path = %q

[report]
driver = "sqlite"
dsn = %q
`, filepath.Join(dir, "history"), filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRunText(t *testing.T) {
	out, err := execute(t, "run", "--seed", "7", "--rounds", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "ROUND")
	assert.Contains(t, out, "PROPOSER")
	assert.Contains(t, out, "seed 7")
	assert.Contains(t, out, "of 5")
	assert.Contains(t, out, "Safety:      safe")
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, "run", "--seed", "7", "--rounds", "3", "--format", "json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines[:3] {
		assert.True(t, json.Valid([]byte(line)), line)
	}

	var final struct {
		Final struct {
			Seed    int64 `json:"seed"`
			Summary struct {
				Rounds int `json:"rounds"`
			} `json:"summary"`
		} `json:"final"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &final))
	assert.Equal(t, int64(7), final.Final.Seed)
}

func TestRunDeterministic(t *testing.T) {
	a, err := execute(t, "run", "--seed", "42", "--rounds", "4", "--format", "json")
	require.NoError(t, err)
	b, err := execute(t, "run", "--seed", "42", "--rounds", "4", "--format", "json")
	require.NoError(t, err)

	// Block hashes cover wall-clock timestamps, so compare the schedule only.
	type round struct {
		Round    int    `json:"round"`
		Proposer int    `json:"proposer"`
		Outcome  string `json:"outcome"`
	}
	rounds := func(s string) []round {
		lines := strings.Split(strings.TrimSpace(s), "\n")
		var out []round
		for _, line := range lines[:len(lines)-1] {
			var r round
			require.NoError(t, json.Unmarshal([]byte(line), &r))
			out = append(out, r)
		}
		return out
	}
	assert.Equal(t, rounds(a), rounds(b))
	assert.Len(t, rounds(a), 4)
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "run", "--rounds", "0")
	assert.Error(t, err)

	_, err = execute(t, "run", "--format", "xml")
	assert.Error(t, err)

	_, err = execute(t, "run", "--preset", "nope")
	assert.Error(t, err)
}

func TestStep(t *testing.T) {
	out, err := execute(t, "step", "--seed", "3")
	require.NoError(t, err)
	for _, name := range []string{"ROUND_START", "BLOCK_PROPOSAL", "PREVOTE", "PRECOMMIT", "COMMIT", "ROUND_COMPLETE"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "next proposer")
}

func TestStepBack(t *testing.T) {
	out, err := execute(t, "step", "--seed", "3", "--steps", "3", "--back", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "back "))
}

func TestTopology(t *testing.T) {
	out, err := execute(t, "topology", "--nodes", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "4 nodes, 6 edges")
	assert.Contains(t, out, "connected true")
	assert.Contains(t, out, "NODE")
}

func TestTopologyGossipAndPath(t *testing.T) {
	out, err := execute(t, "topology", "--nodes", "6", "--topology", "ring", "--origin", "1", "--from", "1", "--to", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Gossip from 1")
	assert.Contains(t, out, "Shortest path 1 -> 4")
}

func TestTopologyJSON(t *testing.T) {
	out, err := execute(t, "topology", "--nodes", "4", "--json")
	require.NoError(t, err)

	var report struct {
		Type  string            `json:"type"`
		Edges []json.RawMessage `json:"edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "full-mesh", report.Type)
	assert.Len(t, report.Edges, 6)
}

func TestTopologyRejectsUnknownNode(t *testing.T) {
	_, err := execute(t, "topology", "--nodes", "4", "--origin", "9")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, "config", "show", "--nodes", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "node_count: 7")
	assert.Contains(t, out, "vote_threshold: 0.67")

	out, err = execute(t, "config", "show", "--format", "json", "--preset", "largeNetwork")
	require.NoError(t, err)
	var cfg struct {
		Network struct {
			NodeCount int `json:"node_count"`
		} `json:"network"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 16, cfg.Network.NodeCount)
}

func TestConfigShowFromFile(t *testing.T) {
	out, err := execute(t, "config", "show", "--config", writeStoreConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "name: Stored")
	assert.Contains(t, out, "backend: bbolt")
}

func TestConfigPresets(t *testing.T) {
	out, err := execute(t, "config", "presets")
	require.NoError(t, err)
	for _, name := range []string{"default", "smallNetwork", "largeNetwork", "byzantineTest", "partitionTest"} {
		assert.Contains(t, out, name)
	}
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "can reach quorum:   true")

	_, err = execute(t, "config", "validate", "--nodes", "1")
	assert.Error(t, err)
}

func TestHistoryRequiresBackend(t *testing.T) {
	_, err := execute(t, "history")
	assert.ErrorIs(t, err, errNoArchive)

	_, err = execute(t, "history", "runs")
	assert.ErrorIs(t, err, errNoReport)
}

func TestHistoryAfterRun(t *testing.T) {
	cfgPath := writeStoreConfig(t)

	out, err := execute(t, "run", "--config", cfgPath, "--seed", "5", "--rounds", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Report:      saved run")

	out, err = execute(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "ROUND"))

	out, err = execute(t, "history", "--config", cfgPath, "--from", "2", "--to", "3", "--json")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var rec struct {
		Round int `json:"round"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, 2, rec.Round)

	out, err = execute(t, "history", "runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Stored")
	assert.Contains(t, out, "ID")
}
