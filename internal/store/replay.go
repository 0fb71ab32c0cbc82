package store

import (
	"context"
	"fmt"

	"github.com/roach88/stampsync/internal/ir"
)

// Replay streams a run's arrivals to fn in seq order. Iteration stops at
// the first error from fn, which is returned unwrapped.
//
// fn must not call back into the store: the single pooled connection is
// held by the cursor until Replay returns.
func (s *Store) Replay(ctx context.Context, runID string, fn func(ir.ArrivalRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, stream, stream_index, stamp, payload, disposition
		FROM arrivals
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("query arrivals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec         ir.ArrivalRecord
			payloadJSON string
			disposition string
		)
		err := rows.Scan(&rec.ID, &rec.Seq, &rec.Stream, &rec.StreamIndex, &rec.Stamp, &payloadJSON, &disposition)
		if err != nil {
			return fmt.Errorf("scan arrival: %w", err)
		}
		if rec.Payload, err = unmarshalPayload(payloadJSON); err != nil {
			return err
		}
		rec.Disposition = ir.Disposition(disposition)

		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate arrivals: %w", err)
	}
	return nil
}

// LastSeq returns the highest seq recorded for a run across arrivals,
// matches and drops. Returns 0 for an empty run.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM arrivals WHERE run_id = ?1
			UNION ALL
			SELECT seq FROM matches WHERE run_id = ?1
			UNION ALL
			SELECT seq FROM drops WHERE run_id = ?1
		)
	`, runID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq for run %s: %w", runID, err)
	}
	return seq, nil
}
