package testutil

// DefaultRunID is used when a test does not name its run.
const DefaultRunID = "test-run-default"

// FixedRunIDGenerator returns the same run ID on every call.
// It satisfies engine.RunIDGenerator.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id, or DefaultRunID when
// id is empty.
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = DefaultRunID
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed ID.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
