// Package reorder holds late-arriving samples back until their stream's
// lateness window has passed, so the synchronizer sees each stream in
// stamp order.
//
// Each stream keeps a B-tree ordered by (stamp, seq). A sample is released
// once the stream has seen a stamp at least window ticks newer. Samples that
// arrive after a newer stamp was already released are still returned: the
// synchronizer rejects them, and the engine records the rejection, so
// nothing disappears inside the buffer.
//
// A Buffer is not safe for concurrent use. The engine drives it from its
// single writer goroutine.
package reorder

import (
	"math"

	"github.com/tidwall/btree"

	"github.com/roach88/stampsync/internal/ir"
)

// Buffer is a per-stream lateness buffer.
type Buffer struct {
	window  int64
	streams []*stream
}

type stream struct {
	pending *btree.BTreeG[ir.Sample]
	maxSeen int64
	seen    bool
}

// New creates a buffer for n streams. window must be >= 0; zero releases
// every sample immediately.
func New(n int, window int64) *Buffer {
	if window < 0 {
		window = 0
	}
	b := &Buffer{window: window, streams: make([]*stream, n)}
	for i := range b.streams {
		b.streams[i] = &stream{pending: btree.NewBTreeG(less)}
	}
	return b
}

// less orders by stamp, then by arrival seq for equal stamps.
func less(a, b ir.Sample) bool {
	if a.Stamp != b.Stamp {
		return a.Stamp < b.Stamp
	}
	return a.Seq < b.Seq
}

// Window returns the lateness window in stamp units.
func (b *Buffer) Window() int64 {
	return b.window
}

// Push buffers a sample and returns the samples of its stream that are now
// releasable, in ascending (stamp, seq) order. Returns nil when nothing is
// ready. Panics if the sample's StreamIndex is out of range.
func (b *Buffer) Push(s ir.Sample) []ir.Sample {
	st := b.streams[s.StreamIndex]
	st.pending.Set(s)
	if !st.seen || s.Stamp > st.maxSeen {
		st.maxSeen = s.Stamp
		st.seen = true
	}

	horizon := subSaturating(st.maxSeen, b.window)
	var ready []ir.Sample
	for {
		head, ok := st.pending.Min()
		if !ok || head.Stamp > horizon {
			break
		}
		st.pending.PopMin()
		ready = append(ready, head)
	}
	return ready
}

// Flush drains every stream and returns all pending samples ordered by
// (stamp, seq) across streams. The buffer stays usable afterwards.
func (b *Buffer) Flush() []ir.Sample {
	all := btree.NewBTreeG(func(a, c ir.Sample) bool {
		if less(a, c) {
			return true
		}
		if less(c, a) {
			return false
		}
		return a.StreamIndex < c.StreamIndex
	})
	for _, st := range b.streams {
		st.pending.Scan(func(s ir.Sample) bool {
			all.Set(s)
			return true
		})
		st.pending.Clear()
	}
	if all.Len() == 0 {
		return nil
	}
	return all.Items()
}

// Len returns the number of samples held across all streams.
func (b *Buffer) Len() int {
	n := 0
	for _, st := range b.streams {
		n += st.pending.Len()
	}
	return n
}

// Pending returns the number of samples held for one stream.
func (b *Buffer) Pending(streamIndex int) int {
	return b.streams[streamIndex].pending.Len()
}

func subSaturating(a, b int64) int64 {
	if a < math.MinInt64+b {
		return math.MinInt64
	}
	return a - b
}
