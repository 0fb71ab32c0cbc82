package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room to change an algorithm without colliding with old IDs.
const (
	DomainSample   = "stampsync/sample/v1"
	DomainMatch    = "stampsync/match/v1"
	DomainTopology = "stampsync/topology/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The separator keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SampleID computes the content-addressed ID of a sample. seq makes two
// identical submissions distinct; the run ID is left out so a replay of the
// same arrivals reproduces the same IDs.
func SampleID(stream string, stamp int64, payload IRObject, seq int64) (string, error) {
	if payload == nil {
		payload = IRObject{}
	}
	obj := IRObject{
		"stream":  IRString(stream),
		"stamp":   IRInt(stamp),
		"payload": payload,
		"seq":     IRInt(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SampleID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSample, canonical), nil
}

// MatchID computes the ID of a matched set from its member sample IDs in
// stream order.
func MatchID(sampleIDs []string) (string, error) {
	arr := make(IRArray, len(sampleIDs))
	for i, id := range sampleIDs {
		arr[i] = IRString(id)
	}

	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("MatchID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMatch, canonical), nil
}

// TopologyHash fingerprints everything in a topology that affects matching.
// Purpose and stream descriptions are documentation and do not count.
func TopologyHash(t TopologySpec) (string, error) {
	streams := make(IRArray, len(t.Streams))
	for i, s := range t.Streams {
		streams[i] = IRString(s.Name)
	}
	obj := IRObject{
		"name":           IRString(t.Name),
		"delta_t":        IRInt(t.DeltaT),
		"reorder_window": IRInt(t.ReorderWindow),
		"streams":        streams,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TopologyHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTopology, canonical), nil
}

// MustSampleID is like SampleID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSampleID(stream string, stamp int64, payload IRObject, seq int64) string {
	id, err := SampleID(stream, stamp, payload, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustMatchID is like MatchID but panics on error.
func MustMatchID(sampleIDs []string) string {
	id, err := MatchID(sampleIDs)
	if err != nil {
		panic(err)
	}
	return id
}
