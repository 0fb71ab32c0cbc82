package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/stampsync/internal/compiler"
	"github.com/roach88/stampsync/internal/engine"
	"github.com/roach88/stampsync/internal/ir"
	"github.com/roach88/stampsync/internal/store"
	"github.com/roach88/stampsync/internal/testutil"
)

// Harness drives one scenario through a real engine and records its trace.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	result *Result
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with a
// deterministic clock and a fixed run ID so traces are reproducible.
//
// Execution flow:
// 1. Resolve the topology (inline or from the CUE spec)
// 2. Build an engine recording every arrival, match and drop
// 3. Process flow steps in order, checking per-step expectations
// 4. Flush the reorder buffer
// 5. Cross-check the engine counters against the store
// 6. Evaluate assertions
//
// An error is returned only when the scenario cannot be executed; failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	topology, err := ResolveTopology(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{store: st, result: NewResult()}

	eng, err := engine.New(*topology,
		engine.WithStore(st),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
		engine.WithArrivalHandler(h.recordArrival),
		engine.WithMatchHandler(h.recordMatch),
		engine.WithDropHandler(h.recordDrop),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.engine = eng

	ctx := context.Background()

	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}
	if err := eng.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	h.result.Counts = eng.Snapshot().Counts
	if err := h.checkStore(ctx); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

// ResolveTopology returns the scenario's topology, loading it from the CUE
// spec when one is referenced. Inline topologies are named after the
// scenario (see inlineTopologyName) and validated like compiled ones.
func ResolveTopology(scenario *Scenario) (*ir.TopologySpec, error) {
	if scenario.Spec != "" {
		topology, err := compiler.LoadTopology(scenario.Spec, scenario.TopologyName)
		if err != nil {
			return nil, fmt.Errorf("failed to load topology: %w", err)
		}
		return topology, nil
	}

	if scenario.Topology == nil {
		return nil, fmt.Errorf("scenario %q has no topology", scenario.Name)
	}
	topology := testutil.Topology(inlineTopologyName(scenario.Name), scenario.Topology.Streams...)
	topology.DeltaT = scenario.Topology.DeltaT
	topology.ReorderWindow = scenario.Topology.ReorderWindow

	if errs := compiler.ValidateTopology(&topology); len(errs) > 0 {
		return nil, fmt.Errorf("invalid topology: %w", errs[0])
	}
	return &topology, nil
}

// inlineTopologyName folds a free-form scenario name into a topology
// identifier: lowercased, runs of other characters become one underscore,
// and a leading non-letter gets a "t_" prefix.
func inlineTopologyName(scenario string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(scenario) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	name := b.String()
	if name == "" {
		return "inline"
	}
	if name[0] < 'a' || name[0] > 'z' {
		name = "t_" + name
	}
	return name
}

// executeFlow processes each step and checks what it caused.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep) error {
	for i, step := range flow {
		payload, err := ir.PayloadFromMap(step.Add.Payload)
		if err != nil {
			return fmt.Errorf("flow[%d]: payload: %w", i, err)
		}

		mark := len(h.result.Trace)
		err = h.engine.Process(ctx, ir.Arrival{
			Stream:  step.Add.Stream,
			Stamp:   step.Add.Stamp,
			Payload: payload,
		})
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}

		h.checkStep(i, step, h.result.Trace[mark:])
	}
	return nil
}

// checkStep validates one step's expectations against the events it
// produced.
func (h *Harness) checkStep(i int, step FlowStep, events []TraceEvent) {
	var firstMatch *TraceEvent
	rejected := false
	for j := range events {
		ev := &events[j]
		switch {
		case ev.Type == EventMatch && firstMatch == nil:
			firstMatch = ev
		case ev.Type == EventRejected && ev.Stream == step.Add.Stream && ev.Stamp == step.Add.Stamp:
			rejected = true
		}
	}

	if len(step.ExpectMatch) > 0 {
		switch {
		case firstMatch == nil:
			h.result.AddError(fmt.Sprintf("flow[%d]: expected match %v, got none", i, step.ExpectMatch))
		case !slices.Equal(firstMatch.Stamps, step.ExpectMatch):
			h.result.AddError(fmt.Sprintf("flow[%d]: expected match %v, got %v", i, step.ExpectMatch, firstMatch.Stamps))
		}
	}
	if step.ExpectNoMatch && firstMatch != nil {
		h.result.AddError(fmt.Sprintf("flow[%d]: expected no match, got %v", i, firstMatch.Stamps))
	}
	if step.ExpectRejected && !rejected {
		h.result.AddError(fmt.Sprintf("flow[%d]: expected %s@%d to be rejected", i, step.Add.Stream, step.Add.Stamp))
	}
}

// checkStore verifies that the run's log agrees with the engine counters.
func (h *Harness) checkStore(ctx context.Context) error {
	counts := h.result.Counts
	if counts.Arrivals == 0 {
		return nil
	}

	stored, err := h.store.Counts(ctx, h.engine.RunID())
	if err != nil {
		return fmt.Errorf("failed to read store counts: %w", err)
	}

	got := engine.Counts{
		Arrivals: int64(stored.Arrivals),
		Rejected: int64(stored.Rejected),
		Matches:  int64(stored.Matches),
		Drops:    int64(stored.Drops),
	}
	if got != counts {
		h.result.AddError(fmt.Sprintf("store counts %+v disagree with engine counts %+v", got, counts))
	}
	return nil
}

func (h *Harness) recordArrival(rec ir.ArrivalRecord) {
	eventType := EventArrival
	if rec.Disposition == ir.DispositionRejected {
		eventType = EventRejected
	}
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:   eventType,
		Seq:    rec.Seq,
		Stream: rec.Stream,
		Stamp:  rec.Stamp,
	})
}

func (h *Harness) recordMatch(m ir.Match) {
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:   EventMatch,
		Seq:    m.Seq,
		Stamps: m.Stamps(),
		Spread: m.Spread(),
	})
}

func (h *Harness) recordDrop(d ir.Drop) {
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:   EventDrop,
		Seq:    d.Seq,
		Stream: d.Sample.Stream,
		Stamp:  d.Sample.Stamp,
	})
}
