package ir

// Version constants recorded with every run.
const (
	// IRVersion is the record schema version.
	IRVersion = "1"

	// EngineVersion is the stampsync engine version.
	EngineVersion = "0.1.0"
)
