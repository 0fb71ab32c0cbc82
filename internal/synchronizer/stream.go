package synchronizer

import (
	"fmt"
	"strconv"
	"strings"
)

// Stream is the typed handle for one stream of a Synchronizer.
//
// A Stream owns the queued elements of its index. Elements are moved in by
// Add and moved out exactly once, either inside a matched Set or through
// the drop callback.
type Stream[T any] struct {
	owner  *Synchronizer
	index  int
	items  []T
	timeFn func(T) int64
	onDrop func(T)
}

// Attach creates the handle for stream index of s. timeFn extracts the
// logical stamp of an element; nil installs a function returning 0, which
// degrades ordering to insertion order.
//
// Panics if index is out of range or already attached.
func Attach[T any](s *Synchronizer, index int, timeFn func(T) int64) *Stream[T] {
	if index < 0 || index >= len(s.slots) {
		panic(fmt.Sprintf("synchronizer: stream index %d out of range [0, %d)", index, len(s.slots)))
	}
	if s.slots[index] != nil {
		panic(fmt.Sprintf("synchronizer: stream %d already attached", index))
	}
	st := &Stream[T]{
		owner:  s,
		index:  index,
		onDrop: func(T) {},
	}
	st.SetTimeFunc(timeFn)
	s.slots[index] = st
	return st
}

// Index returns the stream's position within its Synchronizer.
func (st *Stream[T]) Index() int {
	return st.index
}

// SetTimeFunc replaces the stamp extraction function. nil installs the
// zero-returning default. Must be set before the first insertion.
func (st *Stream[T]) SetTimeFunc(fn func(T) int64) {
	if fn == nil {
		fn = func(T) int64 { return 0 }
	}
	st.timeFn = fn
}

// OnDrop installs the callback for elements evicted without being matched.
// Passing nil restores the no-op default.
func (st *Stream[T]) OnDrop(fn func(T)) {
	if fn == nil {
		fn = func(T) {}
	}
	st.onDrop = fn
}

// Len returns the number of queued elements.
func (st *Stream[T]) Len() int {
	return len(st.items)
}

// Stamps returns the stamps of the queued elements, oldest first.
func (st *Stream[T]) Stamps() []int64 {
	stamps := make([]int64, len(st.items))
	for i, v := range st.items {
		stamps[i] = st.timeFn(v)
	}
	return stamps
}

// Add queues v at the back of the stream.
//
// v is discarded, without any callback, if its stamp is before the
// synchronizer's next acceptable time or before the stamp of the last
// queued element.
//
// Not safe for concurrent use with Search or other Adds.
func (st *Stream[T]) Add(v T) {
	t := st.timeFn(v)
	if t < st.owner.nextT {
		st.owner.reject(st.index, t, "before_next_t")
		return
	}
	if n := len(st.items); n > 0 && t < st.timeFn(st.items[n-1]) {
		st.owner.reject(st.index, t, "out_of_order")
		return
	}
	st.items = append(st.items, v)
}

// AddAndSearch queues v, then drains every available match unless another
// goroutine is already searching. In that case only the insertion happens
// and a later call picks up the pending matches.
func (st *Stream[T]) AddAndSearch(v T) {
	st.Add(v)
	st.owner.searchAll()
}

func (st *Stream[T]) size() int {
	return len(st.items)
}

func (st *Stream[T]) stampAt(i int) int64 {
	return st.timeFn(st.items[i])
}

func (st *Stream[T]) evict(reason string) {
	v := st.pop()
	st.owner.logger.Debug("element dropped",
		"stream", st.index,
		"stamp", st.timeFn(v),
		"reason", reason,
	)
	st.onDrop(v)
}

func (st *Stream[T]) take() any {
	return st.pop()
}

// pop removes the front element. The vacated slot is zeroed so the queue
// does not keep the element reachable.
func (st *Stream[T]) pop() T {
	var zero T
	v := st.items[0]
	st.items[0] = zero
	if len(st.items) == 1 {
		st.items = st.items[:0]
	} else {
		st.items = st.items[1:]
	}
	return v
}

func (st *Stream[T]) writeStamps(b *strings.Builder) {
	for _, v := range st.items {
		b.WriteString(strconv.FormatInt(st.timeFn(v), 10))
		b.WriteByte(' ')
	}
}
