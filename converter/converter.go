// Package converter defines the conversion collaborator interface and two
// implementations: a local deterministic converter for offline use and
// tests, and an HTTP client for a remote conversion engine. Format detection
// is signature-driven (glob patterns plus magic-byte sniffing).
package converter

import "context"

// DetectResult is the outcome of format detection.
type DetectResult struct {
	// Format is the detected recording format name.
	Format string `json:"format"`

	// Confidence is the detection confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// ConvertResult is the outcome of a conversion run.
type ConvertResult struct {
	// OutputRef is the reference to the converted artifact.
	OutputRef string `json:"output_ref"`

	// Checksum is the content checksum of the artifact.
	Checksum string `json:"checksum"`
}

// Fix is one mechanical correction applied to a converted artifact.
type Fix struct {
	// Field is the metadata field the fix touches.
	Field string `json:"field"`

	// Action is the fix kind: "set", "normalize", or "remove".
	Action string `json:"action"`

	// Value is the value for "set" and "normalize" actions.
	Value string `json:"value,omitempty"`
}

// Converter is the conversion engine collaborator. Implementations may be
// slow and may fail; calls carry a context deadline set by the caller.
type Converter interface {
	// DetectFormat identifies the recording format of an input.
	DetectFormat(ctx context.Context, inputRef string) (*DetectResult, error)

	// RunConversion converts an input into the archival format using the
	// merged descriptive metadata.
	RunConversion(ctx context.Context, inputRef string, merged map[string]string) (*ConvertResult, error)

	// ApplyCorrections applies fixes to a converted artifact and returns
	// the new artifact reference.
	ApplyCorrections(ctx context.Context, outputRef string, fixes []Fix) (string, error)
}
