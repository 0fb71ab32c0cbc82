package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/ir"
)

func TestCreateRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, s, "run-1")

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	// idempotent
	require.NoError(t, s.CreateRun(ctx, run))
	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListRuns_OrderedByID(t *testing.T) {
	s := createTestStore(t)
	createTestRun(t, s, "0192-b")
	createTestRun(t, s, "0192-a")

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "0192-a", runs[0].ID)
	assert.Equal(t, "0192-b", runs[1].ID)
}

func TestWriteArrival_RoundTripAndIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	a1 := createTestArrival("left", 0, 10, 1, ir.DispositionQueued)
	a2 := createTestArrival("right", 1, 3, 2, ir.DispositionRejected)
	require.NoError(t, s.WriteArrival(ctx, "run-1", a2))
	require.NoError(t, s.WriteArrival(ctx, "run-1", a1))
	require.NoError(t, s.WriteArrival(ctx, "run-1", a1))

	got, err := s.ReadArrivals(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []ir.ArrivalRecord{a1, a2}, got, "ordered by seq, not insertion")
}

func TestWriteArrival_RequiresRun(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteArrival(context.Background(), "nope", createTestArrival("left", 0, 1, 1, ir.DispositionQueued))
	assert.Error(t, err)
}

func TestWriteArrival_RejectsNullInPayload(t *testing.T) {
	s := createTestStore(t)
	createTestRun(t, s, "run-1")
	rec := createTestArrival("left", 0, 1, 1, ir.DispositionQueued)
	rec.Payload = ir.IRObject{"bad": ir.IRNull{}}

	err := s.WriteArrival(context.Background(), "run-1", rec)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestWriteMatch_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	left := createTestArrival("left", 0, 10, 1, ir.DispositionQueued)
	right := createTestArrival("right", 1, 12, 2, ir.DispositionQueued)
	require.NoError(t, s.WriteArrival(ctx, "run-1", left))
	require.NoError(t, s.WriteArrival(ctx, "run-1", right))

	m := ir.Match{
		ID:       ir.MustMatchID([]string{left.ID, right.ID}),
		Seq:      3,
		MinStamp: 10,
		MaxStamp: 12,
		Samples:  []ir.Sample{left.Sample, right.Sample},
	}
	require.NoError(t, s.WriteMatch(ctx, "run-1", m))
	require.NoError(t, s.WriteMatch(ctx, "run-1", m), "second write is a no-op")

	got, err := s.ReadMatches(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m, got[0])
}

func TestWriteMatch_MemberMustBeStored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	left := createTestArrival("left", 0, 10, 1, ir.DispositionQueued)
	ghost := createTestArrival("right", 1, 12, 2, ir.DispositionQueued)
	require.NoError(t, s.WriteArrival(ctx, "run-1", left))

	m := ir.Match{ID: "m", Seq: 3, MinStamp: 10, MaxStamp: 12, Samples: []ir.Sample{left.Sample, ghost.Sample}}
	require.Error(t, s.WriteMatch(ctx, "run-1", m))

	matches, err := s.ReadMatches(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, matches, "failed match must roll back")
}

func TestWriteDrop_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	a := createTestArrival("left", 0, 10, 1, ir.DispositionQueued)
	b := createTestArrival("left", 0, 11, 2, ir.DispositionQueued)
	require.NoError(t, s.WriteArrival(ctx, "run-1", a))
	require.NoError(t, s.WriteArrival(ctx, "run-1", b))

	require.NoError(t, s.WriteDrop(ctx, "run-1", ir.Drop{Seq: 5, Sample: b.Sample}))
	require.NoError(t, s.WriteDrop(ctx, "run-1", ir.Drop{Seq: 4, Sample: a.Sample}))
	require.NoError(t, s.WriteDrop(ctx, "run-1", ir.Drop{Seq: 9, Sample: a.Sample}), "repeat ignored")

	drops, err := s.ReadDrops(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []ir.Drop{{Seq: 4, Sample: a.Sample}, {Seq: 5, Sample: b.Sample}}, drops)
}

func TestReads_EmptyRunReturnsEmptySlices(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	arrivals, err := s.ReadArrivals(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, arrivals)
	assert.Empty(t, arrivals)

	matches, err := s.ReadMatches(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, matches)

	drops, err := s.ReadDrops(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, drops)
}

func TestCountsAndLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	seq, err := s.LastSeq(ctx, "run-1")
	require.NoError(t, err)
	assert.Zero(t, seq)

	a := createTestArrival("left", 0, 10, 1, ir.DispositionQueued)
	r := createTestArrival("right", 1, 2, 2, ir.DispositionRejected)
	require.NoError(t, s.WriteArrival(ctx, "run-1", a))
	require.NoError(t, s.WriteArrival(ctx, "run-1", r))
	require.NoError(t, s.WriteDrop(ctx, "run-1", ir.Drop{Seq: 7, Sample: a.Sample}))

	counts, err := s.Counts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Arrivals: 2, Rejected: 1, Matches: 0, Drops: 1}, counts)

	seq, err = s.LastSeq(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}
