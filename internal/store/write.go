package store

import (
	"context"
	"fmt"

	"github.com/roach88/stampsync/internal/ir"
)

// CreateRun records a run and its compiled topology.
// Uses ON CONFLICT(id) DO NOTHING, so re-registering a run is a no-op.
func (s *Store) CreateRun(ctx context.Context, run ir.Run) error {
	specJSON, err := marshalSpec(run.Topology)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, topology, spec, spec_hash, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Topology.Name,
		specJSON,
		run.SpecHash,
		run.EngineVersion,
		run.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// WriteArrival records a submitted sample and its disposition.
// Duplicate sample IDs within a run are silently ignored.
//
// The run must exist (foreign key constraint).
func (s *Store) WriteArrival(ctx context.Context, runID string, rec ir.ArrivalRecord) error {
	payloadJSON, err := marshalPayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("write arrival: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO arrivals
		(run_id, id, seq, stream, stream_index, stamp, payload, disposition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO NOTHING
	`,
		runID,
		rec.ID,
		rec.Seq,
		rec.Stream,
		rec.StreamIndex,
		rec.Stamp,
		payloadJSON,
		string(rec.Disposition),
	)
	if err != nil {
		return fmt.Errorf("write arrival: %w", err)
	}
	return nil
}

// WriteMatch records a matched set and its members in one transaction.
// Writing the same match twice is a no-op.
//
// Every member sample must already be stored as an arrival.
func (s *Store) WriteMatch(ctx context.Context, runID string, m ir.Match) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write match: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO matches
		(run_id, id, seq, min_stamp, max_stamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO NOTHING
	`, runID, m.ID, m.Seq, m.MinStamp, m.MaxStamp)
	if err != nil {
		return fmt.Errorf("write match: insert: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write match: rows affected: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	for _, sample := range m.Samples {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO match_members
			(run_id, match_id, stream_index, sample_id)
			VALUES (?, ?, ?, ?)
		`, runID, m.ID, sample.StreamIndex, sample.ID)
		if err != nil {
			return fmt.Errorf("write match: member %d: %w", sample.StreamIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write match: commit: %w", err)
	}
	return nil
}

// WriteDrop records that a queued sample was evicted unmatched.
// A sample is dropped at most once; repeats are ignored.
func (s *Store) WriteDrop(ctx context.Context, runID string, d ir.Drop) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drops
		(run_id, sample_id, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, sample_id) DO NOTHING
	`, runID, d.Sample.ID, d.Seq)
	if err != nil {
		return fmt.Errorf("write drop: %w", err)
	}
	return nil
}
