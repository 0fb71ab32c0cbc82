package synchronizer

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// slot is the type-erased view of one stream's queue used by the search.
type slot interface {
	size() int
	stampAt(i int) int64
	// evict removes the front element and hands it to the drop callback.
	evict(reason string)
	// take removes the front element without invoking any callback.
	take() any
	writeStamps(b *strings.Builder)
}

// Synchronizer matches elements across a fixed number of streams.
//
// The zero value is not usable; construct with New. A Synchronizer must not
// be copied after first use.
type Synchronizer struct {
	slots      []slot
	searchIdx  []int
	optimalIdx []int

	onMatch func(Set)

	deltaT int64
	nextT  int64

	searchMu sync.Mutex
	logger   *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDeltaT sets the minimum gap between the representative (earliest)
// stamp of a matched set and the next accepted insertion.
//
// Default: 0
func WithDeltaT(deltaT int64) Option {
	return func(s *Synchronizer) {
		s.deltaT = deltaT
	}
}

// WithLogger sets the logger used for debug diagnostics (rejections, drops).
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Synchronizer for n streams. Streams are attached with
// Attach; a stream without a handle never holds elements, so Search reports
// false until every index has been attached and fed.
//
// Panics if n < 1.
func New(n int, opts ...Option) *Synchronizer {
	if n < 1 {
		panic(fmt.Sprintf("synchronizer: stream count must be positive, got %d", n))
	}
	s := &Synchronizer{
		slots:      make([]slot, n),
		searchIdx:  make([]int, n),
		optimalIdx: make([]int, n),
		onMatch:    func(Set) {},
		nextT:      math.MinInt64,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Size returns the number of streams.
func (s *Synchronizer) Size() int {
	return len(s.slots)
}

// DeltaT returns the configured minimum gap between matches.
func (s *Synchronizer) DeltaT() int64 {
	return s.deltaT
}

// NextT returns the earliest stamp currently accepted by Add.
// Starts at math.MinInt64 and advances after every match.
func (s *Synchronizer) NextT() int64 {
	return s.nextT
}

// OnMatch installs the callback invoked once per matched set.
// The set carries one element per stream, in stream order. Passing nil
// restores the no-op default.
func (s *Synchronizer) OnMatch(fn func(Set)) {
	if fn == nil {
		fn = func(Set) {}
	}
	s.onMatch = fn
}

// Lens returns the current queue length of every stream.
// Unattached streams report 0.
func (s *Synchronizer) Lens() []int {
	lens := make([]int, len(s.slots))
	for i, q := range s.slots {
		if q != nil {
			lens[i] = q.size()
		}
	}
	return lens
}

// Search looks for one matched set and, if found, delivers it to the match
// callback and returns true. Elements superseded by the chosen set are
// handed to their stream's drop callback.
//
// Not safe for concurrent use with Add or Search; see AddAndSearch.
func (s *Synchronizer) Search() bool {
	defer s.resetSearch()

	for _, q := range s.slots {
		if q == nil {
			return false
		}
	}

	// queued elements at or before next_t can no longer be part of a set
	s.keepBefore(0, s.nextT)

	for _, q := range s.slots {
		if q.size() == 0 {
			return false
		}
	}

	// keep at most one element before the pivot in each queue
	pivot := s.maxSearchStamp()
	s.keepBefore(1, pivot)

	// every queue must bracket the pivot
	for _, q := range s.slots {
		if q.stampAt(0) > pivot || q.stampAt(q.size()-1) < pivot {
			return false
		}
	}

	minT := s.minSearchStamp()
	maxT := pivot
	bestMin, bestMax := minT, maxT

	for minT < pivot {
		if !s.advance(minT) {
			break
		}

		minT = s.minSearchStamp()
		maxT = s.maxSearchStamp()

		// min_t <= pivot from here on, the window cannot shrink any further
		if maxT-pivot >= bestMax-bestMin {
			break
		}

		if maxT-minT < bestMax-bestMin {
			bestMin, bestMax = minT, maxT
			copy(s.optimalIdx, s.searchIdx)
		}
	}

	for i, q := range s.slots {
		for k := 0; k < s.optimalIdx[i]; k++ {
			q.evict("superseded")
		}
	}

	// the pivot may have been very old
	s.keepBefore(1, bestMax)

	s.nextT = saturatingAdd(bestMin, s.deltaT)

	set := Set{
		elems:  make([]any, len(s.slots)),
		stamps: make([]int64, len(s.slots)),
	}
	for i, q := range s.slots {
		set.stamps[i] = q.stampAt(0)
		set.elems[i] = q.take()
	}

	s.onMatch(set)
	return true
}

// searchAll drains every match currently possible, unless another goroutine
// is already searching.
func (s *Synchronizer) searchAll() {
	if !s.searchMu.TryLock() {
		return
	}
	defer s.searchMu.Unlock()

	for s.Search() {
	}
}

// keepBefore trims every queue so that at most n elements have a stamp at
// or before t. Trimmed elements go to the drop callback.
func (s *Synchronizer) keepBefore(n int, t int64) {
	for _, q := range s.slots {
		for q.size() >= n+1 && q.stampAt(n) <= t {
			q.evict("stale")
		}
	}
}

// advance moves the search index of the first stream sitting at or before t.
// Returns false if that stream has nothing left to advance to.
func (s *Synchronizer) advance(t int64) bool {
	for i, q := range s.slots {
		idx := s.searchIdx[i]
		if q.stampAt(idx) <= t {
			if idx+1 >= q.size() {
				return false
			}
			s.searchIdx[i]++
			return true
		}
	}
	return false
}

func (s *Synchronizer) minSearchStamp() int64 {
	m := int64(math.MaxInt64)
	for i, q := range s.slots {
		m = min(m, q.stampAt(s.searchIdx[i]))
	}
	return m
}

func (s *Synchronizer) maxSearchStamp() int64 {
	m := int64(math.MinInt64)
	for i, q := range s.slots {
		m = max(m, q.stampAt(s.searchIdx[i]))
	}
	return m
}

func (s *Synchronizer) resetSearch() {
	for i := range s.searchIdx {
		s.searchIdx[i] = 0
		s.optimalIdx[i] = 0
	}
}

func (s *Synchronizer) reject(index int, stamp int64, reason string) {
	s.logger.Debug("element rejected",
		"stream", index,
		"stamp", stamp,
		"next_t", s.nextT,
		"reason", reason,
	)
}

// String renders every queue's stamps for diagnostics.
// The format is not stable.
func (s *Synchronizer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synchronizer size %d (dt=%d, nt=%d)\n", len(s.slots), s.deltaT, s.nextT)
	for i, q := range s.slots {
		fmt.Fprintf(&b, "Queue #%d: ", i)
		if q == nil || q.size() == 0 {
			b.WriteString("(empty)\n")
			continue
		}
		q.writeStamps(&b)
		b.WriteString("\n")
	}
	return b.String()
}

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if b > 0 && sum < a {
		return math.MaxInt64
	}
	if b < 0 && sum > a {
		return math.MinInt64
	}
	return sum
}
