// Package synchronizer groups timestamped elements from N independent streams
// into time-aligned sets.
//
// A Synchronizer owns one ordered queue per stream. Each stream has its own
// element type, its own time function (element -> int64 logical stamp) and an
// optional drop callback. Whenever every queue can bracket a common pivot
// time, Search picks one element per stream so that max-min of their stamps
// is as small as the greedy policy can make it, hands the set to the match
// callback, and evicts everything older through the per-stream drop
// callbacks. This is the "approximate time" policy used for sensor fusion in
// robotics middleware.
//
// # Element types
//
// The core type is type-erased. Typed access goes through handles:
//
//	s := synchronizer.New(2, synchronizer.WithDeltaT(0))
//	lidar := synchronizer.Attach(s, 0, func(sw Sweep) int64 { return sw.Stamp })
//	camera := synchronizer.Attach(s, 1, func(f Frame) int64 { return f.Stamp })
//	s.OnMatch(func(set synchronizer.Set) {
//		sw := synchronizer.Elem[Sweep](set, 0)
//		f := synchronizer.Elem[Frame](set, 1)
//		_ = fuse(sw, f)
//	})
//	lidar.AddAndSearch(sweep)
//	camera.AddAndSearch(frame)
//
// New2, New3 and New4 wrap the same machinery with fully static callback
// signatures for the common small arities.
//
// # Insertion policy
//
// An element is queued only if its stamp is >= the synchronizer's next
// acceptable time and >= the stamp of the last element already queued on its
// stream. Anything else is discarded at the door: no callback fires. Drop
// callbacks fire only for elements that were queued and later superseded by
// a match. Callers that need ordering guarantees must provide them upstream.
//
// # Concurrency
//
// Nothing runs in the background. AddAndSearch serializes the search step
// with a try-lock: a caller that finds a search already running skips its
// own search, and a later call drains pending matches. Queue mutation itself
// is not synchronized, so producers on different goroutines must serialize
// their Add/AddAndSearch calls externally (engine.Engine does this with a
// single-writer loop).
package synchronizer
