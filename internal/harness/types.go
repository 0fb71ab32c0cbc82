package harness

import "github.com/roach88/stampsync/internal/engine"

// Trace event types.
const (
	EventArrival  = "arrival"
	EventRejected = "rejected"
	EventMatch    = "match"
	EventDrop     = "drop"
)

// TraceEvent is one thing the engine did while running a scenario.
// Arrival, rejected and drop events carry Stream and Stamp; match events
// carry Stamps in stream order and their Spread.
type TraceEvent struct {
	Type   string  `json:"type"`
	Seq    int64   `json:"seq"`
	Stream string  `json:"stream,omitempty"`
	Stamp  int64   `json:"stamp,omitempty"`
	Stamps []int64 `json:"stamps,omitempty"`
	Spread int64   `json:"spread,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every arrival, rejection, match and drop in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Counts are the engine's final counters.
	Counts engine.Counts `json:"counts"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Matches returns the match events in order.
func (r *Result) Matches() []TraceEvent {
	return r.filter(EventMatch)
}

// Drops returns the drop events in order.
func (r *Result) Drops() []TraceEvent {
	return r.filter(EventDrop)
}

func (r *Result) filter(eventType string) []TraceEvent {
	out := []TraceEvent{}
	for _, ev := range r.Trace {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
