package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/stampsync/internal/ir"
	"github.com/roach88/stampsync/internal/store"
)

// ReplayResult compares a stored run with a fresh re-execution of its
// arrivals.
type ReplayResult struct {
	RunID         string   `json:"run_id"`
	Topology      string   `json:"topology"`
	Arrivals      int      `json:"arrivals"`
	Matches       int      `json:"matches"`
	Drops         int      `json:"drops"`
	Deterministic bool     `json:"deterministic"`
	Mismatches    []string `json:"mismatches"`
}

// Replay re-executes a stored run and reports whether the synchronizer
// reproduces its log.
//
// A fresh engine is built from the stored topology with no store attached.
// Stored samples are fed in seq order with their original IDs, the reorder
// buffer (if any) is flushed, and the resulting dispositions, match IDs and
// dropped sample IDs are compared with the stored ones, position by
// position.
//
// Returns sql.ErrNoRows (wrapped) if the run does not exist.
func Replay(ctx context.Context, st *store.Store, runID string) (*ReplayResult, error) {
	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	arrivals, err := st.ReadArrivals(ctx, runID)
	if err != nil {
		return nil, err
	}
	storedMatches, err := st.ReadMatches(ctx, runID)
	if err != nil {
		return nil, err
	}
	storedDrops, err := st.ReadDrops(ctx, runID)
	if err != nil {
		return nil, err
	}

	var (
		gotDispositions = map[string]ir.Disposition{}
		gotMatches      []string
		gotDrops        []string
	)
	e, err := New(run.Topology,
		WithRunID(run.ID),
		WithArrivalHandler(func(rec ir.ArrivalRecord) {
			gotDispositions[rec.ID] = rec.Disposition
		}),
		WithMatchHandler(func(m ir.Match) {
			gotMatches = append(gotMatches, m.ID)
		}),
		WithDropHandler(func(d ir.Drop) {
			gotDrops = append(gotDrops, d.Sample.ID)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("rebuild engine for run %s: %w", runID, err)
	}

	if err := e.replayArrivals(ctx, arrivals); err != nil {
		return nil, err
	}

	result := &ReplayResult{
		RunID:      run.ID,
		Topology:   run.Topology.Name,
		Arrivals:   len(arrivals),
		Matches:    len(storedMatches),
		Drops:      len(storedDrops),
		Mismatches: []string{},
	}

	for _, rec := range arrivals {
		got, ok := gotDispositions[rec.ID]
		if !ok {
			result.Mismatches = append(result.Mismatches,
				fmt.Sprintf("arrival %s (seq %d) was never fed", rec.ID, rec.Seq))
			continue
		}
		if got != rec.Disposition {
			result.Mismatches = append(result.Mismatches,
				fmt.Sprintf("arrival %s (seq %d): stored %s, replayed %s", rec.ID, rec.Seq, rec.Disposition, got))
		}
	}

	wantMatches := make([]string, len(storedMatches))
	for i, m := range storedMatches {
		wantMatches[i] = m.ID
	}
	result.Mismatches = append(result.Mismatches, diffIDs("match", wantMatches, gotMatches)...)

	wantDrops := make([]string, len(storedDrops))
	for i, d := range storedDrops {
		wantDrops[i] = d.Sample.ID
	}
	result.Mismatches = append(result.Mismatches, diffIDs("drop", wantDrops, gotDrops)...)

	result.Deterministic = len(result.Mismatches) == 0
	return result, nil
}

// replayArrivals feeds stored samples, keeping their IDs and seqs, then
// flushes the reorder buffer.
func (e *Engine) replayArrivals(ctx context.Context, arrivals []ir.ArrivalRecord) error {
	e.mu.Lock()
	for _, rec := range arrivals {
		if err := e.admit(ctx, rec.Sample); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("replay arrival %s: %w", rec.ID, err)
		}
	}
	e.mu.Unlock()

	if err := e.Flush(ctx); err != nil {
		return fmt.Errorf("replay flush: %w", err)
	}
	return nil
}

func diffIDs(kind string, want, got []string) []string {
	if slices.Equal(want, got) {
		return nil
	}
	var out []string
	for i := 0; i < max(len(want), len(got)); i++ {
		switch {
		case i >= len(got):
			out = append(out, fmt.Sprintf("%s #%d: stored %s, replay produced none", kind, i, want[i]))
		case i >= len(want):
			out = append(out, fmt.Sprintf("%s #%d: replay produced extra %s", kind, i, got[i]))
		case want[i] != got[i]:
			out = append(out, fmt.Sprintf("%s #%d: stored %s, replayed %s", kind, i, want[i], got[i]))
		}
	}
	return out
}
