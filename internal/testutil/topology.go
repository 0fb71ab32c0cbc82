package testutil

import "github.com/roach88/stampsync/internal/ir"

// Topology builds a topology with the given stream names and delta_t 0.
func Topology(name string, streams ...string) ir.TopologySpec {
	spec := ir.TopologySpec{Name: name, Streams: make([]ir.StreamSpec, len(streams))}
	for i, s := range streams {
		spec.Streams[i] = ir.StreamSpec{Name: s}
	}
	return spec
}

// Arrivals builds one payload-less arrival per stamp on a single stream.
func Arrivals(stream string, stamps ...int64) []ir.Arrival {
	out := make([]ir.Arrival, len(stamps))
	for i, st := range stamps {
		out[i] = ir.Arrival{Stream: stream, Stamp: st}
	}
	return out
}
