package ir

// Version constants for the wire protocol and engine.
const (
	// WireVersion is the consumer message protocol version.
	WireVersion = "1"

	// EngineVersion is the attend engine version.
	EngineVersion = "0.1.0"
)
