package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testTopology() ir.TopologySpec {
	return ir.TopologySpec{
		Name:    "pair",
		Purpose: "two streams",
		DeltaT:  5,
		Streams: []ir.StreamSpec{{Name: "left", Description: "left camera"}, {Name: "right"}},
	}
}

// createTestRun registers a run for the test topology.
func createTestRun(t *testing.T, s *Store, id string) ir.Run {
	t.Helper()
	topo := testTopology()
	run := ir.Run{
		ID:            id,
		Topology:      topo,
		SpecHash:      "test-hash",
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

// createTestArrival builds an arrival record with a real content-addressed ID.
func createTestArrival(stream string, index int, stamp, seq int64, disp ir.Disposition) ir.ArrivalRecord {
	payload := ir.IRObject{"frame": ir.IRInt(seq)}
	return ir.ArrivalRecord{
		Sample: ir.Sample{
			ID:          ir.MustSampleID(stream, stamp, payload, seq),
			Stream:      stream,
			StreamIndex: index,
			Stamp:       stamp,
			Payload:     payload,
			Seq:         seq,
		},
		Disposition: disp,
	}
}
