package converter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Signature describes how a recording format is recognized: filename glob
// patterns and an optional magic-byte prefix.
type Signature struct {
	// Format is the format name reported on a match.
	Format string

	// Patterns are doublestar globs matched against the input path.
	Patterns []string

	// Magic is an optional byte prefix checked against the file content.
	Magic []byte

	// Confidence is reported when only the pattern matches; a magic match
	// raises it.
	Confidence float64
}

// DefaultSignatures returns the built-in recording format signatures.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Format:     "spikeglx",
			Patterns:   []string{"**/*.ap.bin", "**/*.lf.bin", "**/*.imec*.bin", "**/*.meta"},
			Confidence: 0.9,
		},
		{
			Format:     "openephys",
			Patterns:   []string{"**/structure.oebin", "**/*.continuous", "**/settings.xml"},
			Confidence: 0.9,
		},
		{
			Format:     "neuralynx",
			Patterns:   []string{"**/*.ncs", "**/*.nev", "**/*.ntt"},
			Confidence: 0.85,
		},
		{
			Format:     "blackrock",
			Patterns:   []string{"**/*.ns[1-6]", "**/*.nev"},
			Confidence: 0.8,
		},
		{
			Format:     "intan",
			Patterns:   []string{"**/*.rhd", "**/*.rhs"},
			Magic:      []byte{0xD6, 0x9C, 0x89, 0xC3},
			Confidence: 0.85,
		},
		{
			Format:     "plexon",
			Patterns:   []string{"**/*.plx", "**/*.pl2"},
			Confidence: 0.85,
		},
		{
			Format:     "edf",
			Patterns:   []string{"**/*.edf"},
			Magic:      []byte("0       "),
			Confidence: 0.85,
		},
	}
}

// Extensions returns the set of file extensions covered by the signatures,
// for use by intake watchers.
func Extensions(signatures []Signature) []string {
	seen := make(map[string]bool)
	var exts []string
	for _, sig := range signatures {
		for _, pattern := range sig.Patterns {
			ext := filepath.Ext(pattern)
			if ext == "" || strings.ContainsAny(ext, "*?[") {
				continue
			}
			if !seen[ext] {
				seen[ext] = true
				exts = append(exts, ext)
			}
		}
	}
	return exts
}

// Detector identifies recording formats from file paths and content.
type Detector struct {
	signatures []Signature
}

// NewDetector creates a detector. A nil signature list uses the defaults.
func NewDetector(signatures []Signature) *Detector {
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	return &Detector{signatures: signatures}
}

// Detect matches the input path against the signature table. A magic-byte
// match raises confidence; an unmatched input yields an explicit unknown
// result rather than an error, since the user can still name the format.
func (d *Detector) Detect(inputRef string) (*DetectResult, error) {
	normalized := filepath.ToSlash(inputRef)

	best := &DetectResult{Format: "unknown", Confidence: 0}
	for _, sig := range d.signatures {
		matched := false
		for _, pattern := range sig.Patterns {
			ok, err := doublestar.Match(pattern, normalized)
			if err != nil {
				return nil, fmt.Errorf("bad signature pattern %q: %w", pattern, err)
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		confidence := sig.Confidence
		if len(sig.Magic) > 0 && matchesMagic(inputRef, sig.Magic) {
			confidence = 1.0
		}
		if confidence > best.Confidence {
			best = &DetectResult{Format: sig.Format, Confidence: confidence}
		}
	}

	return best, nil
}

// matchesMagic checks the file's leading bytes against the signature magic.
// Unreadable files simply fail the magic check; the glob confidence stands.
func matchesMagic(path string, magic []byte) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	prefix := make([]byte, len(magic))
	n, err := f.Read(prefix)
	if err != nil || n < len(magic) {
		return false
	}
	return bytes.Equal(prefix, magic)
}
