package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/ir"
)

func executeTrace(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--run", "run-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceMissingRunFlag(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceUnknownRun(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found: missing")
}

func TestTraceText(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--run", "run-a")
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for Run: run-a")
	assert.Contains(t, out, "Topology: pair")
	assert.Contains(t, out, "[1] ARR  left@1")
	assert.Contains(t, out, "[4] MATCH [1 2] spread=1")
	assert.Contains(t, out, "[7] DROP left@3")
	assert.Contains(t, out, "[9] MATCH [4 5] spread=1")
	assert.Contains(t, out, "[10] ARR  left@2 (rejected)")
	assert.Contains(t, out, "Arrivals:     7 (1 rejected)")
	assert.Contains(t, out, "Matches:      2")
	assert.Contains(t, out, "Drops:        1")
}

func TestTraceJSON(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	out, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", dbPath, "--run", "run-a")
	require.NoError(t, err)

	var response struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)

	result := response.Data
	assert.Equal(t, "run-a", result.RunID)
	assert.Equal(t, 10, result.Stats.TotalEvents)
	assert.Len(t, result.Membership, 4)

	var seqs []int64
	for _, ev := range result.Timeline {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs)

	assert.Equal(t, timelineArrival, result.Timeline[4].Type)
	assert.Equal(t, int64(5), result.Timeline[4].Stamp)
	assert.Equal(t, map[string]interface{}{"frame": float64(4)}, result.Timeline[5].Payload)
}

func TestTraceStreamFilter(t *testing.T) {
	dbPath := seedPairRun(t, "run-a")

	out, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", dbPath, "--run", "run-a", "--stream", "right")
	require.NoError(t, err)

	var response struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))

	for _, ev := range response.Data.Timeline {
		if ev.Type == timelineMatch {
			continue
		}
		assert.Equal(t, "right", ev.Stream)
	}
	// two right arrivals plus both matches
	assert.Len(t, response.Data.Timeline, 4)
	assert.Len(t, response.Data.Membership, 2)
}

func TestTraceHelpText(t *testing.T) {
	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--run")
	assert.Contains(t, out, "--stream")
	assert.Contains(t, out, "Membership")
}

func TestIRObjectToMap(t *testing.T) {
	obj := ir.IRObject{
		"name":  ir.IRString("frame"),
		"index": ir.IRInt(7),
		"ok":    ir.IRBool(true),
		"tags":  ir.IRArray{ir.IRString("a"), ir.IRString("b")},
		"pose":  ir.IRObject{"x": ir.IRInt(1)},
	}

	result := irObjectToMap(obj)
	assert.Equal(t, "frame", result["name"])
	assert.Equal(t, int64(7), result["index"])
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, []interface{}{"a", "b"}, result["tags"])
	assert.Equal(t, map[string]interface{}{"x": int64(1)}, result["pose"])
}

func TestIRObjectToMapEmpty(t *testing.T) {
	assert.Nil(t, irObjectToMap(nil))
	assert.Nil(t, irObjectToMap(ir.IRObject{}))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "exactly16chars!!", truncateID("exactly16chars!!"))
	assert.Equal(t, "abcdefgh...stuvwxyz", truncateID("abcdefghijklmnopqrstuvwxyz"))
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "{}", formatArgs(nil))
	assert.Equal(t, "{a=1, b=x}", formatArgs(map[string]interface{}{"b": "x", "a": 1}))
}

func TestFormatArgsNested(t *testing.T) {
	args := map[string]interface{}{
		"pose": map[string]interface{}{"y": 2, "x": 1},
		"tags": []interface{}{"a", "b"},
	}
	assert.Equal(t, "{pose={x=1, y=2}, tags=[a, b]}", formatArgs(args))
}
