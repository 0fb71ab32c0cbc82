package ir

// TopologySpec is a compiled topology: the ordered streams one synchronizer
// matches across, and its timing knobs.
type TopologySpec struct {
	Name          string       `json:"name"`
	Purpose       string       `json:"purpose"`
	DeltaT        int64        `json:"delta_t"`
	ReorderWindow int64        `json:"reorder_window"`
	Streams       []StreamSpec `json:"streams"`
}

// StreamSpec names one stream. Its position in TopologySpec.Streams is the
// stream index.
type StreamSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StreamIndex resolves a stream name to its index.
func (t *TopologySpec) StreamIndex(name string) (int, bool) {
	for i, s := range t.Streams {
		if s.Name == name {
			return i, true
		}
	}
	return -1, false
}

// StreamNames returns the stream names in index order.
func (t *TopologySpec) StreamNames() []string {
	names := make([]string, len(t.Streams))
	for i, s := range t.Streams {
		names[i] = s.Name
	}
	return names
}

// Arrival is a sample as submitted by a producer, before the engine assigns
// it an index, a sequence number and an ID.
type Arrival struct {
	Stream  string   `json:"stream"`
	Stamp   int64    `json:"stamp"`
	Payload IRObject `json:"payload"`
}

// Sample is an arrival accepted into a run.
type Sample struct {
	ID          string   `json:"id"` // content-addressed, see SampleID
	Stream      string   `json:"stream"`
	StreamIndex int      `json:"stream_index"`
	Stamp       int64    `json:"stamp"`
	Payload     IRObject `json:"payload"`
	Seq         int64    `json:"seq"` // logical clock
}

// Disposition records what the synchronizer did with an arrival.
type Disposition string

const (
	// DispositionQueued means the sample entered its stream's queue.
	DispositionQueued Disposition = "queued"

	// DispositionRejected means the sample was discarded at insertion,
	// either before next_t or older than the back of its queue.
	DispositionRejected Disposition = "rejected"
)

// ArrivalRecord is a stored arrival.
type ArrivalRecord struct {
	Sample
	Disposition Disposition `json:"disposition"`
}

// Match is one matched set: a sample per stream, in stream order.
type Match struct {
	ID       string   `json:"id"` // content-addressed, see MatchID
	Seq      int64    `json:"seq"`
	MinStamp int64    `json:"min_stamp"`
	MaxStamp int64    `json:"max_stamp"`
	Samples  []Sample `json:"samples"`
}

// Stamps returns the member stamps in stream order.
func (m Match) Stamps() []int64 {
	stamps := make([]int64, len(m.Samples))
	for i, s := range m.Samples {
		stamps[i] = s.Stamp
	}
	return stamps
}

// SampleIDs returns the member sample IDs in stream order.
func (m Match) SampleIDs() []string {
	ids := make([]string, len(m.Samples))
	for i, s := range m.Samples {
		ids[i] = s.ID
	}
	return ids
}

// Spread is MaxStamp - MinStamp.
func (m Match) Spread() int64 {
	return m.MaxStamp - m.MinStamp
}

// Drop is a queued sample evicted without ever being matched.
type Drop struct {
	Seq    int64  `json:"seq"`
	Sample Sample `json:"sample"`
}

// Run identifies one engine execution over a topology.
type Run struct {
	ID            string       `json:"id"`
	Topology      TopologySpec `json:"topology"`
	SpecHash      string       `json:"spec_hash"`
	EngineVersion string       `json:"engine_version"`
	IRVersion     string       `json:"ir_version"`
}
