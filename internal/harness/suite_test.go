package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	paths, err := DiscoverScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)
}

func TestDiscoverScenarios_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.yaml")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name   string
		dir    string
		reason string
	}{
		{"missing", filepath.Join(dir, "nope"), "does not exist"},
		{"not a directory", file, "not a directory"},
		{"empty", t.TempDir(), "contains no scenario files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DiscoverScenarios(tt.dir)
			require.Error(t, err)
			var dirErr *ScenarioDirError
			require.ErrorAs(t, err, &dirErr)
			assert.Equal(t, tt.reason, dirErr.Reason)
		})
	}
}

func TestRunSuite_MixedResults(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"1_pass.yaml": pairScenario,
		"2_fail.yaml": `
name: failing
topology: {streams: [s0, s1]}
flow:
  - add: {stream: s0, stamp: 1}
    expect_match: [1, 1]
`,
		"3_broken.yaml": `name: [unclosed`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	result, err := RunSuite(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "failing", result.Failures[0].Name)
	assert.Contains(t, result.Failures[0].Error, "scenario assertions failed")
	assert.Contains(t, result.Failures[1].Error, "failed to load scenario")
}

func TestRunSuite_Cancelled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(pairScenario), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunSuite(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSuite_MissingDir(t *testing.T) {
	_, err := RunSuite(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
