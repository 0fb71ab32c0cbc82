package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/store"
)

func executeReplay(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	return executeReplayWith(t, &RootOptions{Format: format}, args...)
}

func executeReplayWith(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := executeReplay(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found")
}

func TestReplayEmptyDatabaseJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	out, err := executeReplay(t, "json", "--db", dbPath)
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestReplayDeterministicRun(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 run(s)")
	assert.Contains(t, out, "✓ Run: run-a (topology pair)")
	assert.Contains(t, out, "Events: 7 arrivals, 2 matches, 1 drops")
	assert.Contains(t, out, "All runs verified deterministic")
}

func TestReplayDeterministicRunJSON(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	out, err := executeReplay(t, "json", "--db", dbPath, "--run", "run-a")
	require.NoError(t, err)

	var response struct {
		Status string        `json:"status"`
		Data   ReplaySummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.Data.AllDeterministic)
	require.Len(t, response.Data.Runs, 1)
	assert.Equal(t, "run-a", response.Data.Runs[0].RunID)
	assert.Equal(t, 2, response.Data.Runs[0].Matches)
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`DELETE FROM drops WHERE run_id = ?`, "run-a")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeReplayWith(t, &RootOptions{Format: "text", Verbose: true}, "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Run: run-a")
	assert.Contains(t, out, "Non-deterministic replay detected")
	assert.Contains(t, out, "drop")
	assert.Contains(t, out, "Determinism verification failed")
}

func TestReplayDetectsTamperedLogJSON(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`DELETE FROM drops WHERE run_id = ?`, "run-a")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeReplay(t, "json", "--db", dbPath)
	require.Error(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_DETERMINISM", response.Error.Code)
}

func TestReplayUnknownRun(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	_, err := executeReplay(t, "text", "--db", dbPath, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to replay run missing")
}

func TestReplayHelpText(t *testing.T) {
	out, err := executeReplay(t, "text", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "determinism")
	assert.Contains(t, out, "--run")
	assert.Contains(t, out, "--db")
}
