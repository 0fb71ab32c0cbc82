// Package ir holds the record types shared by every stampsync layer:
// topologies, samples, matches and drops, plus the canonical JSON encoding
// and content hashes that give them stable identities.
//
// ir imports nothing internal. Numbers are int64 only, and ordering comes
// from logical sequence numbers, never wall-clock time.
package ir
