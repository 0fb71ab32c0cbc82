// Package engine runs a topology's synchronizer as a single-writer event
// loop and records everything it does.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Producers (HTTP handlers, NATS subscriptions, the CLI) submit arrivals
// from any goroutine. One goroutine runs Engine.Run and feeds them to the
// synchronizer in FIFO order. This ensures:
// - Arrival order is the only input to matching
// - The run log replays to the same matches and drops
// - The synchronizer never sees concurrent Add/Search
//
// Arrival Processing Flow:
// 1. Arrival enqueued (stream name, stamp, payload)
// 2. Engine.Run dequeues it and calls Process
// 3. Process resolves the stream index, stamps a seq from the Clock and
//    computes the content-addressed sample ID
// 4. With a reorder window, the sample waits in the reorder buffer until
//    its stream has moved window ticks past it
// 5. The sample is added to its stream; the arrival is recorded as queued
//    or rejected
// 6. The synchronizer is searched until no set remains; every match and
//    drop is stamped with its own seq, persisted, counted and handed to
//    the registered handlers
//
// Logical Clock:
// Arrivals, matches and drops share one monotonic seq counter. Wall-clock
// time never orders anything.
//
// Replay:
// Replay rebuilds an engine for a stored run, feeds the stored samples back
// in seq order with their original IDs and compares the match and drop
// sequences with the log. Sample IDs hash stream, stamp, payload and seq,
// and match IDs hash their member sample IDs, so an unchanged algorithm
// reproduces the log ID for ID.
package engine
