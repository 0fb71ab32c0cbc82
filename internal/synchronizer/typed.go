package synchronizer

// Sync2 is a two-stream Synchronizer with a statically typed match callback.
type Sync2[A, B any] struct {
	*Synchronizer
	S0 *Stream[A]
	S1 *Stream[B]
}

// New2 creates a two-stream synchronizer.
func New2[A, B any](ta func(A) int64, tb func(B) int64, opts ...Option) *Sync2[A, B] {
	s := New(2, opts...)
	return &Sync2[A, B]{
		Synchronizer: s,
		S0:           Attach(s, 0, ta),
		S1:           Attach(s, 1, tb),
	}
}

// OnMatch installs fn as the match callback.
func (s *Sync2[A, B]) OnMatch(fn func(A, B)) {
	s.Synchronizer.OnMatch(func(set Set) {
		fn(Elem[A](set, 0), Elem[B](set, 1))
	})
}

// Sync3 is a three-stream Synchronizer with a statically typed match callback.
type Sync3[A, B, C any] struct {
	*Synchronizer
	S0 *Stream[A]
	S1 *Stream[B]
	S2 *Stream[C]
}

// New3 creates a three-stream synchronizer.
func New3[A, B, C any](ta func(A) int64, tb func(B) int64, tc func(C) int64, opts ...Option) *Sync3[A, B, C] {
	s := New(3, opts...)
	return &Sync3[A, B, C]{
		Synchronizer: s,
		S0:           Attach(s, 0, ta),
		S1:           Attach(s, 1, tb),
		S2:           Attach(s, 2, tc),
	}
}

// OnMatch installs fn as the match callback.
func (s *Sync3[A, B, C]) OnMatch(fn func(A, B, C)) {
	s.Synchronizer.OnMatch(func(set Set) {
		fn(Elem[A](set, 0), Elem[B](set, 1), Elem[C](set, 2))
	})
}

// Sync4 is a four-stream Synchronizer with a statically typed match callback.
type Sync4[A, B, C, D any] struct {
	*Synchronizer
	S0 *Stream[A]
	S1 *Stream[B]
	S2 *Stream[C]
	S3 *Stream[D]
}

// New4 creates a four-stream synchronizer.
func New4[A, B, C, D any](ta func(A) int64, tb func(B) int64, tc func(C) int64, td func(D) int64, opts ...Option) *Sync4[A, B, C, D] {
	s := New(4, opts...)
	return &Sync4[A, B, C, D]{
		Synchronizer: s,
		S0:           Attach(s, 0, ta),
		S1:           Attach(s, 1, tb),
		S2:           Attach(s, 2, tc),
		S3:           Attach(s, 3, td),
	}
}

// OnMatch installs fn as the match callback.
func (s *Sync4[A, B, C, D]) OnMatch(fn func(A, B, C, D)) {
	s.Synchronizer.OnMatch(func(set Set) {
		fn(Elem[A](set, 0), Elem[B](set, 1), Elem[C](set, 2), Elem[D](set, 3))
	})
}
