package converter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// artifact is the on-disk form of a locally converted file: the archival
// metadata block plus provenance about the source recording.
type artifact struct {
	Metadata  map[string]string `json:"metadata"`
	SourceRef string            `json:"source_ref"`
	Format    string            `json:"format,omitempty"`
	Converted time.Time         `json:"converted_at"`
}

// Local is a deterministic in-process converter used when no remote
// conversion engine is configured, and by tests. It detects formats with
// the signature table and materializes artifacts as JSON documents carrying
// the merged metadata.
type Local struct {
	detector  *Detector
	outputDir string
}

// NewLocal creates a local converter writing artifacts under outputDir.
func NewLocal(outputDir string, signatures []Signature) *Local {
	return &Local{
		detector:  NewDetector(signatures),
		outputDir: outputDir,
	}
}

// DetectFormat implements Converter using the signature table.
func (l *Local) DetectFormat(_ context.Context, inputRef string) (*DetectResult, error) {
	return l.detector.Detect(inputRef)
}

// RunConversion implements Converter by materializing an artifact document
// with the merged metadata.
func (l *Local) RunConversion(_ context.Context, inputRef string, merged map[string]string) (*ConvertResult, error) {
	if err := os.MkdirAll(l.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	detected, err := l.detector.Detect(inputRef)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(merged))
	for k, v := range merged {
		meta[k] = v
	}

	doc := artifact{
		Metadata:  meta,
		SourceRef: inputRef,
		Format:    detected.Format,
		Converted: time.Now().UTC(),
	}

	base := strings.TrimSuffix(filepath.Base(inputRef), filepath.Ext(inputRef))
	outputRef := filepath.Join(l.outputDir, fmt.Sprintf("%s-%s.nwb.json", base, uuid.New().String()[:8]))
	checksum, err := writeArtifact(outputRef, &doc)
	if err != nil {
		return nil, err
	}

	return &ConvertResult{OutputRef: outputRef, Checksum: checksum}, nil
}

// ApplyCorrections implements Converter by rewriting the artifact's metadata
// block and returning a new artifact reference.
func (l *Local) ApplyCorrections(_ context.Context, outputRef string, fixes []Fix) (string, error) {
	data, err := os.ReadFile(outputRef)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	var doc artifact
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse artifact: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]string)
	}

	for _, fix := range fixes {
		switch fix.Action {
		case "set", "normalize":
			doc.Metadata[fix.Field] = fix.Value
		case "remove":
			delete(doc.Metadata, fix.Field)
		default:
			return "", fmt.Errorf("unknown fix action %q for field %s", fix.Action, fix.Field)
		}
	}

	corrected := strings.TrimSuffix(outputRef, ".nwb.json") + "-corrected.nwb.json"
	if _, err := writeArtifact(corrected, &doc); err != nil {
		return "", err
	}
	return corrected, nil
}

// writeArtifact marshals and writes the artifact, returning its checksum.
func writeArtifact(path string, doc *artifact) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
