package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/ir"
	"github.com/roach88/stampsync/internal/metrics"
	"github.com/roach88/stampsync/internal/store"
)

func testTopology() ir.TopologySpec {
	return ir.TopologySpec{
		Name:    "pair",
		Streams: []ir.StreamSpec{{Name: "s0"}, {Name: "s1"}},
	}
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// pairSequence yields two matches ([1 2], [4 5]), one drop (s0@3, evicted
// when s0@4 arrives) and one rejection (s0@2, before next_t).
var pairSequence = []ir.Arrival{
	{Stream: "s0", Stamp: 1},
	{Stream: "s1", Stamp: 2},
	{Stream: "s0", Stamp: 3}, // match [1 2], next_t 1
	{Stream: "s1", Stamp: 5},
	{Stream: "s0", Stamp: 4}, // drop s0@3
	{Stream: "s0", Stamp: 6}, // match [4 5], next_t 4
	{Stream: "s0", Stamp: 2}, // rejected
}

type recorder struct {
	arrivals []ir.ArrivalRecord
	matches  []ir.Match
	drops    []ir.Drop
}

func (r *recorder) options() []EngineOption {
	return []EngineOption{
		WithArrivalHandler(func(rec ir.ArrivalRecord) { r.arrivals = append(r.arrivals, rec) }),
		WithMatchHandler(func(m ir.Match) { r.matches = append(r.matches, m) }),
		WithDropHandler(func(d ir.Drop) { r.drops = append(r.drops, d) }),
	}
}

func processAll(t *testing.T, e *Engine, arrivals []ir.Arrival) {
	t.Helper()
	for _, a := range arrivals {
		require.NoError(t, e.Process(context.Background(), a))
	}
}

func TestEngine_New(t *testing.T) {
	e, err := New(testTopology(), WithRunID("run-1"))
	require.NoError(t, err)

	assert.Equal(t, "run-1", e.RunID())
	assert.Equal(t, "pair", e.Topology().Name)
	assert.Len(t, e.streams, 2)
	assert.Nil(t, e.reorder, "zero window should not allocate a reorder buffer")
}

func TestEngine_New_NoStreams(t *testing.T) {
	_, err := New(ir.TopologySpec{Name: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no streams")
}

func TestEngine_New_NegativeWindow(t *testing.T) {
	_, err := New(testTopology(), WithRunID("r"), WithReorderWindow(-1))
	require.Error(t, err)
}

func TestEngine_New_CopiesTopology(t *testing.T) {
	topo := testTopology()
	e, err := New(topo, WithRunID("r"))
	require.NoError(t, err)

	topo.Streams[0].Name = "mutated"
	assert.Equal(t, "s0", e.Topology().Streams[0].Name)
}

func TestEngine_Process_MatchesDropsAndRejections(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("run-1"))...)
	require.NoError(t, err)

	processAll(t, e, pairSequence)

	require.Len(t, rec.matches, 2)
	assert.Equal(t, []int64{1, 2}, rec.matches[0].Stamps())
	assert.Equal(t, []int64{4, 5}, rec.matches[1].Stamps())
	assert.Equal(t, int64(1), rec.matches[0].Spread())

	require.Len(t, rec.drops, 1)
	assert.Equal(t, "s0", rec.drops[0].Sample.Stream)
	assert.Equal(t, int64(3), rec.drops[0].Sample.Stamp)

	require.Len(t, rec.arrivals, 7)
	for _, a := range rec.arrivals[:6] {
		assert.Equal(t, ir.DispositionQueued, a.Disposition, "stamp %d", a.Stamp)
	}
	assert.Equal(t, ir.DispositionRejected, rec.arrivals[6].Disposition)
}

func TestEngine_Process_SharedSeqOrdering(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("run-1"))...)
	require.NoError(t, err)

	processAll(t, e, pairSequence)

	// arrivals 1,2,3; match 4; arrivals 5,6; drop 7; arrival 8; match 9; arrival 10
	seqs := make([]int64, len(rec.arrivals))
	for i, a := range rec.arrivals {
		seqs[i] = a.Seq
	}
	assert.Equal(t, []int64{1, 2, 3, 5, 6, 8, 10}, seqs)
	assert.Equal(t, int64(4), rec.matches[0].Seq)
	assert.Equal(t, int64(7), rec.drops[0].Seq)
	assert.Equal(t, int64(9), rec.matches[1].Seq)
}

func TestEngine_Process_ContentAddressedIDs(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("run-1"))...)
	require.NoError(t, err)

	processAll(t, e, pairSequence[:3])

	first := rec.arrivals[0]
	assert.Equal(t, ir.MustSampleID("s0", 1, ir.IRObject{}, 1), first.ID)

	m := rec.matches[0]
	assert.Equal(t, ir.MustMatchID([]string{rec.arrivals[0].ID, rec.arrivals[1].ID}), m.ID)
	assert.Equal(t, int64(1), m.MinStamp)
	assert.Equal(t, int64(2), m.MaxStamp)
}

func TestEngine_Process_SameInputSameIDs(t *testing.T) {
	run := func(runID string) []string {
		var rec recorder
		e, err := New(testTopology(), append(rec.options(), WithRunID(runID))...)
		require.NoError(t, err)
		processAll(t, e, pairSequence)
		ids := []string{}
		for _, m := range rec.matches {
			ids = append(ids, m.ID)
		}
		return ids
	}

	assert.Equal(t, run("a"), run("b"), "IDs must not depend on the run ID")
}

func TestEngine_Process_PayloadDefaultsToEmptyObject(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("r"))...)
	require.NoError(t, err)

	require.NoError(t, e.Process(context.Background(), ir.Arrival{Stream: "s1", Stamp: 7}))
	require.Len(t, rec.arrivals, 1)
	assert.Equal(t, ir.IRObject{}, rec.arrivals[0].Payload)
}

func TestEngine_Process_UnknownStream(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("r"))...)
	require.NoError(t, err)

	err = e.Process(context.Background(), ir.Arrival{Stream: "radar", Stamp: 1})
	require.Error(t, err)
	assert.True(t, IsUnknownStreamError(err))
	assert.Empty(t, rec.arrivals)
	assert.Equal(t, int64(0), e.clock.Current(), "unknown streams must not consume a seq")
}

func TestEngine_Process_PersistsRunLog(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	e, err := New(testTopology(), WithRunID("run-1"), WithStore(st))
	require.NoError(t, err)
	processAll(t, e, pairSequence)

	run, err := st.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "pair", run.Topology.Name)
	assert.Equal(t, ir.EngineVersion, run.EngineVersion)
	wantHash, err := ir.TopologyHash(testTopology())
	require.NoError(t, err)
	assert.Equal(t, wantHash, run.SpecHash)

	counts, err := st.Counts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCounts{Arrivals: 7, Rejected: 1, Matches: 2, Drops: 1}, counts)

	matches, err := st.ReadMatches(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, []int64{1, 2}, matches[0].Stamps())
	assert.Equal(t, []int64{4, 5}, matches[1].Stamps())

	drops, err := st.ReadDrops(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Equal(t, int64(3), drops[0].Sample.Stamp)
	assert.Equal(t, int64(7), drops[0].Seq)
}

func TestEngine_Process_NoStoreWritesUntilFirstArrival(t *testing.T) {
	st := setupTestStore(t)
	_, err := New(testTopology(), WithRunID("idle"), WithStore(st))
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEngine_Process_PersistFailure(t *testing.T) {
	st := setupTestStore(t)
	e, err := New(testTopology(), WithRunID("r"), WithStore(st))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	err = e.Process(context.Background(), ir.Arrival{Stream: "s0", Stamp: 1})
	require.Error(t, err)
	assert.True(t, IsPersistError(err))
}

func TestEngine_Process_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	e, err := New(testTopology(), WithRunID("r"), WithMetrics(m))
	require.NoError(t, err)
	processAll(t, e, pairSequence)

	n, err := testutil.GatherAndCount(reg, "stampsync_arrivals_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "series: s0/queued, s1/queued, s0/rejected")

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		switch f.GetName() {
		case "stampsync_matches_total":
			assert.Equal(t, 2.0, f.GetMetric()[0].GetCounter().GetValue())
		case "stampsync_drops_total":
			assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestEngine_ReorderWindow_RestoresStampOrder(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("r"), WithReorderWindow(5))...)
	require.NoError(t, err)

	processAll(t, e, []ir.Arrival{
		{Stream: "s0", Stamp: 5},
		{Stream: "s0", Stamp: 3}, // would be rejected without the buffer
		{Stream: "s1", Stamp: 4},
	})
	assert.Empty(t, rec.arrivals, "everything is still inside the window")

	require.NoError(t, e.Flush(context.Background()))

	require.Len(t, rec.arrivals, 3)
	for _, a := range rec.arrivals {
		assert.Equal(t, ir.DispositionQueued, a.Disposition)
	}
	assert.Equal(t, int64(3), rec.arrivals[0].Stamp)
	require.Len(t, rec.matches, 1)
	assert.Equal(t, []int64{3, 4}, rec.matches[0].Stamps())
}

func TestEngine_ReorderWindow_FromTopology(t *testing.T) {
	topo := testTopology()
	topo.ReorderWindow = 3
	e, err := New(topo, WithRunID("r"))
	require.NoError(t, err)
	require.NotNil(t, e.reorder)
	assert.Equal(t, int64(3), e.reorder.Window())
}

func TestEngine_Flush_NoWindowIsNoop(t *testing.T) {
	e, err := New(testTopology(), WithRunID("r"))
	require.NoError(t, err)
	assert.NoError(t, e.Flush(context.Background()))
}

func TestEngine_Run_ProcessesUntilStopped(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("r"))...)
	require.NoError(t, err)

	for _, a := range pairSequence {
		require.True(t, e.Enqueue(a))
	}
	e.Stop()

	require.NoError(t, e.Run(context.Background()))
	assert.Len(t, rec.matches, 2)
	assert.Len(t, rec.drops, 1)
	assert.Equal(t, 0, e.QueueLen())
}

func TestEngine_Run_ContextCancel(t *testing.T) {
	e, err := New(testTopology(), WithRunID("r"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.Submit(ir.Arrival{Stream: "s0", Stamp: 1}))
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, e.Enqueue(ir.Arrival{Stream: "s0", Stamp: 2}), "queue closes with the loop")
}

func TestEngine_Run_FlushesReorderBufferOnExit(t *testing.T) {
	var rec recorder
	e, err := New(testTopology(), append(rec.options(), WithRunID("r"), WithReorderWindow(10))...)
	require.NoError(t, err)

	e.Enqueue(ir.Arrival{Stream: "s0", Stamp: 5})
	e.Enqueue(ir.Arrival{Stream: "s1", Stamp: 5})
	e.Stop()

	require.NoError(t, e.Run(context.Background()))
	require.Len(t, rec.matches, 1)
	assert.Equal(t, []int64{5, 5}, rec.matches[0].Stamps())
}

func TestEngine_Submit(t *testing.T) {
	e, err := New(testTopology(), WithRunID("r"))
	require.NoError(t, err)

	require.NoError(t, e.Submit(ir.Arrival{Stream: "s0", Stamp: 1}))
	assert.Equal(t, 1, e.QueueLen())

	err = e.Submit(ir.Arrival{Stream: "nope", Stamp: 1})
	assert.True(t, IsUnknownStreamError(err))

	e.Stop()
	err = e.Submit(ir.Arrival{Stream: "s1", Stamp: 1})
	assert.True(t, IsStoppedError(err))
}

func TestEngine_Snapshot(t *testing.T) {
	e, err := New(testTopology(), WithRunID("run-1"))
	require.NoError(t, err)
	processAll(t, e, pairSequence[:3])

	snap := e.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, "pair", snap.Topology)
	assert.Equal(t, int64(1), snap.NextT)
	assert.Equal(t, int64(4), snap.Seq)
	assert.Equal(t, Counts{Arrivals: 3, Matches: 1}, snap.Counts)

	require.Len(t, snap.Streams, 2)
	assert.Equal(t, StreamState{Name: "s0", Index: 0, Queued: 1, Stamps: []int64{3}}, snap.Streams[0])
	assert.Equal(t, StreamState{Name: "s1", Index: 1, Queued: 0, Stamps: []int64{}}, snap.Streams[1])
	assert.Contains(t, snap.Dump, "Queue #1: (empty)")
}
