package synchronizer

// Set is one matched element per stream, in stream order.
// Ownership of the elements passes to the match callback.
type Set struct {
	elems  []any
	stamps []int64
}

// Len returns the number of streams in the set.
func (s Set) Len() int {
	return len(s.elems)
}

// At returns the element of stream i.
func (s Set) At(i int) any {
	return s.elems[i]
}

// Stamp returns the stamp of stream i's element.
func (s Set) Stamp(i int) int64 {
	return s.stamps[i]
}

// Stamps returns a copy of all stamps in stream order.
func (s Set) Stamps() []int64 {
	out := make([]int64, len(s.stamps))
	copy(out, s.stamps)
	return out
}

// Spread returns max-min over the set's stamps.
func (s Set) Spread() int64 {
	if len(s.stamps) == 0 {
		return 0
	}
	lo, hi := s.stamps[0], s.stamps[0]
	for _, t := range s.stamps[1:] {
		lo = min(lo, t)
		hi = max(hi, t)
	}
	return hi - lo
}

// Elem returns stream i's element as a T.
// Panics if the stream's element type is not T.
func Elem[T any](s Set, i int) T {
	return s.elems[i].(T)
}
