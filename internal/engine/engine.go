package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/stampsync/internal/ir"
	"github.com/roach88/stampsync/internal/metrics"
	"github.com/roach88/stampsync/internal/reorder"
	"github.com/roach88/stampsync/internal/store"
	"github.com/roach88/stampsync/internal/synchronizer"
)

// Engine is the single-writer event loop around one topology's
// synchronizer.
//
// Thread-safety model:
//   - Enqueue(), Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Process(), Flush(): serialized internally; callers that do not use
//     Run may drive the engine with them directly
//   - Snapshot(): safe from any goroutine
type Engine struct {
	topology ir.TopologySpec
	runID    string

	sync    *synchronizer.Synchronizer
	streams []*synchronizer.Stream[ir.Sample]
	reorder *reorder.Buffer
	window  int64

	store   *store.Store
	metrics *metrics.Metrics
	clock   Sequencer
	runIDs  RunIDGenerator
	queue   *arrivalQueue

	onArrival func(ir.ArrivalRecord)
	onMatch   func(ir.Match)
	onDrop    func(ir.Drop)

	// mu serializes Process, Flush and Snapshot.
	mu         sync.Mutex
	registered bool
	outcomes   []outcome
	counts     Counts
}

// outcome is a match or drop observed during one search pass, in the order
// the synchronizer reported it.
type outcome struct {
	match []ir.Sample
	drop  *ir.Sample
}

// Counts tallies what an engine has processed since it was created.
type Counts struct {
	Arrivals int64 `json:"arrivals"`
	Rejected int64 `json:"rejected"`
	Matches  int64 `json:"matches"`
	Drops    int64 `json:"drops"`
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStore records the run, its arrivals, matches and drops.
func WithStore(s *store.Store) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithMetrics reports arrivals, matches, drops and queue depths.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRunID fixes the run ID. Takes precedence over WithRunIDGenerator.
func WithRunID(id string) EngineOption {
	return func(e *Engine) {
		e.runID = id
	}
}

// WithRunIDGenerator sets how the run ID is produced.
// Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithClock replaces the logical clock, e.g. to continue after a stored seq
// or to share a deterministic clock with a test harness.
func WithClock(c Sequencer) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithReorderWindow overrides the topology's reorder window.
// Zero disables the reorder buffer.
func WithReorderWindow(window int64) EngineOption {
	return func(e *Engine) {
		e.window = window
	}
}

// WithArrivalHandler is called once per sample added to the synchronizer,
// with its disposition.
func WithArrivalHandler(fn func(ir.ArrivalRecord)) EngineOption {
	return func(e *Engine) {
		e.onArrival = fn
	}
}

// WithMatchHandler is called once per matched set, after it is persisted.
func WithMatchHandler(fn func(ir.Match)) EngineOption {
	return func(e *Engine) {
		e.onMatch = fn
	}
}

// WithDropHandler is called once per evicted sample, after it is persisted.
func WithDropHandler(fn func(ir.Drop)) EngineOption {
	return func(e *Engine) {
		e.onDrop = fn
	}
}

// New creates an engine for a compiled topology.
//
// The topology is copied; later changes to the caller's value have no
// effect. Nothing is written to the store until the first arrival.
func New(topology ir.TopologySpec, opts ...EngineOption) (*Engine, error) {
	if len(topology.Streams) == 0 {
		return nil, fmt.Errorf("topology %q has no streams", topology.Name)
	}

	streams := make([]ir.StreamSpec, len(topology.Streams))
	copy(streams, topology.Streams)
	topology.Streams = streams

	e := &Engine{
		topology:  topology,
		window:    topology.ReorderWindow,
		clock:     NewClock(),
		runIDs:    UUIDv7Generator{},
		queue:     newArrivalQueue(),
		onArrival: func(ir.ArrivalRecord) {},
		onMatch:   func(ir.Match) {},
		onDrop:    func(ir.Drop) {},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.runID == "" {
		e.runID = e.runIDs.Generate()
	}
	if e.window < 0 {
		return nil, fmt.Errorf("reorder window must be >= 0, got %d", e.window)
	}
	if e.window > 0 {
		e.reorder = reorder.New(len(streams), e.window)
	}
	// The stored run must carry the window actually in effect so Replay
	// rebuilds the same engine.
	e.topology.ReorderWindow = e.window

	e.sync = synchronizer.New(len(streams), synchronizer.WithDeltaT(topology.DeltaT))
	e.sync.OnMatch(e.collectMatch)

	e.streams = make([]*synchronizer.Stream[ir.Sample], len(streams))
	for i := range streams {
		st := synchronizer.Attach(e.sync, i, sampleStamp)
		st.OnDrop(e.collectDrop)
		e.streams[i] = st
	}

	return e, nil
}

func sampleStamp(s ir.Sample) int64 {
	return s.Stamp
}

// RunID returns the run's identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// Topology returns the engine's topology.
func (e *Engine) Topology() ir.TopologySpec {
	return e.topology
}

// Enqueue submits an arrival for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(a ir.Arrival) bool {
	return e.queue.Enqueue(a)
}

// Submit checks the arrival's stream and enqueues it.
// Returns an unknown stream or engine stopped RuntimeError on failure.
func (e *Engine) Submit(a ir.Arrival) error {
	if _, ok := e.topology.StreamIndex(a.Stream); !ok {
		return NewUnknownStreamError(e.runID, a.Stream)
	}
	if !e.queue.Enqueue(a) {
		return NewStoppedError(e.runID)
	}
	return nil
}

// QueueLen returns the number of arrivals waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer event loop.
// Blocks until the context is cancelled or Stop is called and the queue
// has drained. Samples still held by the reorder buffer are flushed before
// returning.
//
// A failed arrival is logged and skipped; processing continues with the
// next one.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"run", e.runID,
		"topology", e.topology.Name,
		"streams", len(e.streams),
	)

	for {
		a, ok := e.queue.TryDequeue()
		if ok {
			if err := e.Process(ctx, a); err != nil {
				logArrivalError(e.runID, a, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled", "run", e.runID)
			e.queue.Close()
			e.flushOnExit(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so this fires
			// immediately once stopped.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed", "run", e.runID)
				e.flushOnExit(ctx)
				return nil
			}
		}
	}
}

func (e *Engine) flushOnExit(ctx context.Context) {
	if err := e.Flush(ctx); err != nil {
		slog.Error("flush on exit failed", "run", e.runID, "error", err)
	}
}

// Stop closes the arrival queue. Run returns once the queue is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

func logArrivalError(runID string, a ir.Arrival, err error) {
	slog.Error("arrival processing failed",
		"run", runID,
		"stream", a.Stream,
		"stamp", a.Stamp,
		"error", err,
	)
}

// Process handles one arrival synchronously: it resolves the stream,
// assigns a seq and a content-addressed ID, then admits the sample.
//
// Used by Run, the harness and the CLI. Safe to call concurrently with
// Snapshot, but arrival order is defined by the order of Process calls.
func (e *Engine) Process(ctx context.Context, a ir.Arrival) error {
	idx, ok := e.topology.StreamIndex(a.Stream)
	if !ok {
		return NewUnknownStreamError(e.runID, a.Stream)
	}

	payload := a.Payload
	if payload == nil {
		payload = ir.IRObject{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.clock.Next()
	id, err := ir.SampleID(a.Stream, a.Stamp, payload, seq)
	if err != nil {
		return fmt.Errorf("sample id: %w", err)
	}

	return e.admit(ctx, ir.Sample{
		ID:          id,
		Stream:      a.Stream,
		StreamIndex: idx,
		Stamp:       a.Stamp,
		Payload:     payload,
		Seq:         seq,
	})
}

// admit routes a sample through the reorder buffer, if any.
// Caller must hold e.mu.
func (e *Engine) admit(ctx context.Context, s ir.Sample) error {
	if e.reorder == nil {
		return e.feed(ctx, s)
	}
	for _, ready := range e.reorder.Push(s) {
		if err := e.feed(ctx, ready); err != nil {
			return err
		}
	}
	return nil
}

// Flush releases every sample held by the reorder buffer into the
// synchronizer. A no-op without a reorder window.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reorder == nil {
		return nil
	}
	var errs []error
	for _, s := range e.reorder.Flush() {
		if err := e.feed(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// feed adds one sample to its stream, records the arrival and drains every
// set the synchronizer can now produce. Caller must hold e.mu.
func (e *Engine) feed(ctx context.Context, s ir.Sample) error {
	if err := e.ensureRun(ctx); err != nil {
		return err
	}

	// Add and Search are called separately instead of AddAndSearch: e.mu
	// already serializes the search, and the queue length around Add is what
	// tells a rejection apart.
	st := e.streams[s.StreamIndex]
	before := st.Len()
	st.Add(s)

	rec := ir.ArrivalRecord{Sample: s, Disposition: ir.DispositionQueued}
	if st.Len() == before {
		rec.Disposition = ir.DispositionRejected
	}

	if e.store != nil {
		if err := e.store.WriteArrival(ctx, e.runID, rec); err != nil {
			return NewPersistError(e.runID, "arrival "+s.ID, err)
		}
	}

	e.counts.Arrivals++
	if rec.Disposition == ir.DispositionRejected {
		e.counts.Rejected++
		slog.Debug("sample rejected",
			"run", e.runID,
			"stream", s.Stream,
			"stamp", s.Stamp,
			"seq", s.Seq,
			"next_t", e.sync.NextT(),
		)
	}
	e.metrics.ObserveArrival(s.Stream, string(rec.Disposition))
	e.onArrival(rec)

	e.outcomes = e.outcomes[:0]
	for e.sync.Search() {
	}
	err := e.commitOutcomes(ctx)

	for i, q := range e.streams {
		e.metrics.SetQueueDepth(e.topology.Streams[i].Name, q.Len())
	}
	return err
}

func (e *Engine) collectMatch(set synchronizer.Set) {
	samples := make([]ir.Sample, set.Len())
	for i := range samples {
		samples[i] = synchronizer.Elem[ir.Sample](set, i)
	}
	e.outcomes = append(e.outcomes, outcome{match: samples})
}

func (e *Engine) collectDrop(s ir.Sample) {
	e.outcomes = append(e.outcomes, outcome{drop: &s})
}

// commitOutcomes turns the search results into Match and Drop records, in
// the order the synchronizer reported them. Every outcome is handled even
// if an earlier write fails; the first failure is returned.
func (e *Engine) commitOutcomes(ctx context.Context) error {
	var firstErr error
	for _, o := range e.outcomes {
		var err error
		if o.drop != nil {
			err = e.commitDrop(ctx, *o.drop)
		} else {
			err = e.commitMatch(ctx, o.match)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.outcomes = e.outcomes[:0]
	return firstErr
}

func (e *Engine) commitMatch(ctx context.Context, samples []ir.Sample) error {
	m := ir.Match{
		Seq:      e.clock.Next(),
		MinStamp: samples[0].Stamp,
		MaxStamp: samples[0].Stamp,
		Samples:  samples,
	}
	for _, s := range samples[1:] {
		m.MinStamp = min(m.MinStamp, s.Stamp)
		m.MaxStamp = max(m.MaxStamp, s.Stamp)
	}
	id, err := ir.MatchID(m.SampleIDs())
	if err != nil {
		return fmt.Errorf("match id: %w", err)
	}
	m.ID = id

	var persistErr error
	if e.store != nil {
		if err := e.store.WriteMatch(ctx, e.runID, m); err != nil {
			persistErr = NewPersistError(e.runID, "match "+m.ID, err)
		}
	}

	e.counts.Matches++
	e.metrics.ObserveMatch(m.Spread())
	slog.Debug("match emitted",
		"run", e.runID,
		"seq", m.Seq,
		"stamps", m.Stamps(),
		"spread", m.Spread(),
	)
	e.onMatch(m)
	return persistErr
}

func (e *Engine) commitDrop(ctx context.Context, s ir.Sample) error {
	d := ir.Drop{Seq: e.clock.Next(), Sample: s}

	var persistErr error
	if e.store != nil {
		if err := e.store.WriteDrop(ctx, e.runID, d); err != nil {
			persistErr = NewPersistError(e.runID, "drop "+s.ID, err)
		}
	}

	e.counts.Drops++
	e.metrics.ObserveDrop(s.Stream)
	slog.Debug("sample dropped",
		"run", e.runID,
		"stream", s.Stream,
		"stamp", s.Stamp,
		"seq", d.Seq,
	)
	e.onDrop(d)
	return persistErr
}

// ensureRun registers the run on first use. Caller must hold e.mu.
func (e *Engine) ensureRun(ctx context.Context) error {
	if e.registered || e.store == nil {
		return nil
	}
	hash, err := ir.TopologyHash(e.topology)
	if err != nil {
		return fmt.Errorf("topology hash: %w", err)
	}
	run := ir.Run{
		ID:            e.runID,
		Topology:      e.topology,
		SpecHash:      hash,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return NewPersistError(e.runID, "run", err)
	}
	e.registered = true
	slog.Info("run registered", "run", e.runID, "topology", e.topology.Name, "spec_hash", hash)
	return nil
}

// StreamState is one stream's view in a Snapshot.
type StreamState struct {
	Name     string  `json:"name"`
	Index    int     `json:"index"`
	Queued   int     `json:"queued"`
	Stamps   []int64 `json:"stamps"`
	Buffered int     `json:"buffered"`
}

// Snapshot is a point-in-time view of the engine for diagnostics.
type Snapshot struct {
	RunID    string        `json:"run_id"`
	Topology string        `json:"topology"`
	DeltaT   int64         `json:"delta_t"`
	NextT    int64         `json:"next_t"`
	Window   int64         `json:"reorder_window"`
	Seq      int64         `json:"seq"`
	Pending  int           `json:"pending"`
	Streams  []StreamState `json:"streams"`
	Counts   Counts        `json:"counts"`
	Dump     string        `json:"dump"`
}

// Snapshot returns the current queue contents, counters and the
// synchronizer's debug dump. Pending counts arrivals not yet dequeued by
// Run.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		RunID:    e.runID,
		Topology: e.topology.Name,
		DeltaT:   e.sync.DeltaT(),
		NextT:    e.sync.NextT(),
		Window:   e.window,
		Seq:      e.clock.Current(),
		Pending:  e.queue.Len(),
		Streams:  make([]StreamState, len(e.streams)),
		Counts:   e.counts,
		Dump:     e.sync.String(),
	}
	for i, st := range e.streams {
		state := StreamState{
			Name:   e.topology.Streams[i].Name,
			Index:  i,
			Queued: st.Len(),
			Stamps: st.Stamps(),
		}
		if e.reorder != nil {
			state.Buffered = e.reorder.Pending(i)
		}
		snap.Streams[i] = state
	}
	return snap
}
