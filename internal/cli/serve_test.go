package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/engine"
	"github.com/roach88/stampsync/internal/store"
	"github.com/roach88/stampsync/internal/transport/natsio"
)

func writeServeConfig(t *testing.T, specsDir, dbPath string) string {
	t.Helper()
	cfg := fmt.Sprintf(`db: %s
specs_dir: %s
topology: pair
shutdown_timeout: 2s
http:
  addr: 127.0.0.1:0
nats:
  embedded: true
  embedded_port: -1
log:
  level: warn
`, dbPath, specsDir)
	path := filepath.Join(t.TempDir(), "stampsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func postSample(t *testing.T, addr, stream string, stamp int64) {
	t.Helper()
	body := fmt.Sprintf(`{"stamp": %d}`, stamp)
	resp, err := http.Post("http://"+addr+"/v1/streams/"+stream+"/samples", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

// arrivalCount reads the engine's arrival counter over HTTP, or -1.
func arrivalCount(addr string) int64 {
	resp, err := http.Get("http://" + addr + "/v1/state")
	if err != nil {
		return -1
	}
	defer resp.Body.Close()
	var snap engine.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return -1
	}
	return snap.Counts.Arrivals
}

func TestServeHTTPAndNATS(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "serve.db")
	configPath := writeServeConfig(t, writeSpecsDir(t, pairSpec), dbPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infoCh := make(chan ServeInfo, 1)
	cmd := newServeCommand(&ServeOptions{
		RootOptions: &RootOptions{Format: "text"},
		ready:       func(info ServeInfo) { infoCh <- info },
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath})

	errCh := make(chan error, 1)
	go func() { errCh <- cmd.ExecuteContext(ctx) }()

	var info ServeInfo
	select {
	case info = <-infoCh:
	case err := <-errCh:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not become ready")
	}
	require.NotEmpty(t, info.HTTPAddr)
	require.NotEmpty(t, info.NATSURL)
	assert.Equal(t, "pair", info.Topology)

	nc, err := nats.Connect(info.NATSURL)
	require.NoError(t, err)
	defer nc.Close()
	matches, err := nc.SubscribeSync("stampsync.matches")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	postSample(t, info.HTTPAddr, "left", 1)
	require.NoError(t, nc.Publish("stampsync.samples.right", []byte(`{"stamp": 2}`)))
	require.Eventually(t, func() bool {
		return arrivalCount(info.HTTPAddr) == 2
	}, 5*time.Second, 20*time.Millisecond)

	postSample(t, info.HTTPAddr, "left", 3)

	msg, err := matches.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var mm natsio.MatchMessage
	require.NoError(t, json.Unmarshal(msg.Data, &mm))
	assert.Equal(t, info.RunID, mm.RunID)
	assert.Equal(t, []int64{1, 2}, mm.Stamps())
	assert.Equal(t, int64(1), mm.Spread)

	resp, err := http.Get("http://" + info.HTTPAddr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "stampsync_matches_total 1")
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	counts, err := st.Counts(context.Background(), info.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCounts{Arrivals: 3, Matches: 1}, counts)
}

func TestServeInvalidConfig(t *testing.T) {
	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestServeUnknownTopology(t *testing.T) {
	specsDir := writeSpecsDir(t, pairSpec)
	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--config", writeServeConfig(t, specsDir, filepath.Join(t.TempDir(), "x.db")),
		"--topology", "stereo",
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), `topology "stereo" not found`)
}
