package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/stampsync/internal/ir"
)

// ReadRun retrieves a run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, spec, spec_hash, engine_version, ir_version
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns every run ordered by ID. Run IDs are UUIDv7, so this
// is creation order.
//
// Returns an empty slice (not nil) if there are no runs.
func (s *Store) ListRuns(ctx context.Context) ([]ir.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spec, spec_hash, engine_version, ir_version
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadArrivals returns every arrival of a run in seq order.
//
// Returns an empty slice (not nil) if the run has no arrivals.
func (s *Store) ReadArrivals(ctx context.Context, runID string) ([]ir.ArrivalRecord, error) {
	arrivals := []ir.ArrivalRecord{}
	err := s.Replay(ctx, runID, func(rec ir.ArrivalRecord) error {
		arrivals = append(arrivals, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return arrivals, nil
}

// ReadMatches returns every match of a run in seq order, with member
// samples in stream order.
//
// Returns an empty slice (not nil) if the run has no matches.
func (s *Store) ReadMatches(ctx context.Context, runID string) ([]ir.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, min_stamp, max_stamp
		FROM matches
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}

	matches := []ir.Match{}
	for rows.Next() {
		var m ir.Match
		if err := rows.Scan(&m.ID, &m.Seq, &m.MinStamp, &m.MaxStamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	rows.Close()

	// Members are loaded after the outer cursor is closed: the pool holds a
	// single connection.
	for i := range matches {
		members, err := s.readMatchMembers(ctx, runID, matches[i].ID)
		if err != nil {
			return nil, err
		}
		matches[i].Samples = members
	}
	return matches, nil
}

func (s *Store) readMatchMembers(ctx context.Context, runID, matchID string) ([]ir.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.seq, a.stream, a.stream_index, a.stamp, a.payload
		FROM match_members m
		JOIN arrivals a ON a.run_id = m.run_id AND a.id = m.sample_id
		WHERE m.run_id = ? AND m.match_id = ?
		ORDER BY m.stream_index ASC
	`, runID, matchID)
	if err != nil {
		return nil, fmt.Errorf("query match members: %w", err)
	}
	defer rows.Close()

	samples := []ir.Sample{}
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match members: %w", err)
	}
	return samples, nil
}

// ReadDrops returns every drop of a run in seq order.
//
// Returns an empty slice (not nil) if nothing was dropped.
func (s *Store) ReadDrops(ctx context.Context, runID string) ([]ir.Drop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.seq, a.id, a.seq, a.stream, a.stream_index, a.stamp, a.payload
		FROM drops d
		JOIN arrivals a ON a.run_id = d.run_id AND a.id = d.sample_id
		WHERE d.run_id = ?
		ORDER BY d.seq ASC, d.sample_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query drops: %w", err)
	}
	defer rows.Close()

	drops := []ir.Drop{}
	for rows.Next() {
		var (
			d           ir.Drop
			payloadJSON string
		)
		err := rows.Scan(&d.Seq, &d.Sample.ID, &d.Sample.Seq, &d.Sample.Stream,
			&d.Sample.StreamIndex, &d.Sample.Stamp, &payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("scan drop: %w", err)
		}
		if d.Sample.Payload, err = unmarshalPayload(payloadJSON); err != nil {
			return nil, err
		}
		drops = append(drops, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drops: %w", err)
	}
	return drops, nil
}

// RunCounts summarizes a run's log.
type RunCounts struct {
	Arrivals int `json:"arrivals"`
	Rejected int `json:"rejected"`
	Matches  int `json:"matches"`
	Drops    int `json:"drops"`
}

// Counts returns row counts for a run.
func (s *Store) Counts(ctx context.Context, runID string) (RunCounts, error) {
	var c RunCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM arrivals WHERE run_id = ?1),
			(SELECT COUNT(*) FROM arrivals WHERE run_id = ?1 AND disposition = 'rejected'),
			(SELECT COUNT(*) FROM matches WHERE run_id = ?1),
			(SELECT COUNT(*) FROM drops WHERE run_id = ?1)
	`, runID).Scan(&c.Arrivals, &c.Rejected, &c.Matches, &c.Drops)
	if err != nil {
		return RunCounts{}, fmt.Errorf("count run %s: %w", runID, err)
	}
	return c, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ir.Run, error) {
	var (
		run      ir.Run
		specJSON string
	)
	if err := row.Scan(&run.ID, &specJSON, &run.SpecHash, &run.EngineVersion, &run.IRVersion); err != nil {
		if err == sql.ErrNoRows {
			return ir.Run{}, err
		}
		return ir.Run{}, fmt.Errorf("scan run: %w", err)
	}

	spec, err := unmarshalSpec(specJSON)
	if err != nil {
		return ir.Run{}, err
	}
	run.Topology = spec
	return run, nil
}

func scanSample(row scanner) (ir.Sample, error) {
	var (
		sample      ir.Sample
		payloadJSON string
	)
	err := row.Scan(&sample.ID, &sample.Seq, &sample.Stream, &sample.StreamIndex, &sample.Stamp, &payloadJSON)
	if err != nil {
		return ir.Sample{}, fmt.Errorf("scan sample: %w", err)
	}
	if sample.Payload, err = unmarshalPayload(payloadJSON); err != nil {
		return ir.Sample{}, err
	}
	return sample, nil
}
