package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findExtraction(exts []Extraction, field string) (Extraction, bool) {
	for _, e := range exts {
		if e.FieldName == field {
			return e, true
		}
	}
	return Extraction{}, false
}

func TestExtractFromFilename(t *testing.T) {
	engine := NewEngine(nil, nil, nil)

	tests := []struct {
		name   string
		path   string
		field  string
		value  string
		absent bool
	}{
		{"iso date", "/data/recording_2024-03-15.dat", "session_start_time", "2024-03-15", false},
		{"iso date with time", "session 2024-03-15 09:30.rhd", "session_start_time", "2024-03-15T09:30", false},
		{"compact date", "sub-012_20240315_rec1.bin", "session_start_time", "2024-03-15", false},
		{"subject token", "sub-012_20240315_rec1.bin", "subject_id", "sub-012", false},
		{"subject token no separator", "subj12_session.ns5", "subject_id", "subj12", false},
		{"species keyword", "mouse_v1_recording.dat", "species", "Mus musculus", false},
		{"no signals", "data.bin", "session_start_time", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exts := engine.ExtractFromFilename(tt.path)
			got, ok := findExtraction(exts, tt.field)
			if tt.absent {
				assert.False(t, ok)
				return
			}
			require.True(t, ok, "expected %s extraction from %q", tt.field, tt.path)
			assert.Equal(t, tt.value, got.NormalizedValue)
		})
	}
}

func TestExtractFromFilenameConfidenceBands(t *testing.T) {
	engine := NewEngine(nil, nil, nil)

	exts := engine.ExtractFromFilename("mouse_sub-012_20240315.dat")

	date, ok := findExtraction(exts, "session_start_time")
	require.True(t, ok)
	assert.Equal(t, TierMedium, date.Tier())
	assert.True(t, date.NeedsReview)

	species, ok := findExtraction(exts, "species")
	require.True(t, ok)
	assert.Equal(t, TierHigh, species.Tier(), "vocabulary hits are unambiguous")
	assert.False(t, species.NeedsReview)
}

func TestExtractFromHeader(t *testing.T) {
	engine := NewEngine(nil, nil, nil)

	exts := engine.ExtractFromHeader(map[string]string{
		"Subject":    "mouse-042",
		"species":    "rat",
		"system":     "Open Ephys",
		"comment":    "not a known key",
		"start_time": "",
	})

	subject, ok := findExtraction(exts, "subject_id")
	require.True(t, ok)
	assert.Equal(t, "mouse-042", subject.NormalizedValue)
	assert.Equal(t, TierHigh, subject.Tier())

	species, ok := findExtraction(exts, "species")
	require.True(t, ok)
	assert.Equal(t, "Rattus norvegicus", species.NormalizedValue)

	device, ok := findExtraction(exts, "device")
	require.True(t, ok)
	assert.Equal(t, "Open Ephys", device.NormalizedValue)

	_, ok = findExtraction(exts, "session_start_time")
	assert.False(t, ok, "empty header values are skipped")
	assert.Len(t, exts, 3)
}

func TestExtractFromUtterance(t *testing.T) {
	engine := NewEngine(nil, nil, nil)

	exts := engine.ExtractFromUtterance("The subject is sub-012, species: mouse. Recording started 2024-03-15 09:30.")

	subject, ok := findExtraction(exts, "subject_id")
	require.True(t, ok)
	assert.Equal(t, "sub-012", subject.NormalizedValue)

	species, ok := findExtraction(exts, "species")
	require.True(t, ok)
	assert.Equal(t, "Mus musculus", species.NormalizedValue)

	start, ok := findExtraction(exts, "session_start_time")
	require.True(t, ok)
	assert.Equal(t, "2024-03-15T09:30", start.NormalizedValue)
}

func TestExtractFromUtteranceKeywords(t *testing.T) {
	engine := NewEngine(nil, nil, nil)

	// Bare vocabulary and sex keywords without a "field: value" statement.
	exts := engine.ExtractFromUtterance("it was a female rat")

	species, ok := findExtraction(exts, "species")
	require.True(t, ok)
	assert.Equal(t, "Rattus norvegicus", species.NormalizedValue)

	sex, ok := findExtraction(exts, "sex")
	require.True(t, ok)
	assert.Equal(t, "F", sex.NormalizedValue)
}

func TestExtractFromUtteranceFirstStatementWins(t *testing.T) {
	engine := NewEngine(nil, nil, nil)

	exts := engine.ExtractFromUtterance("lab: Tank Lab, laboratory: Other Lab")
	lab, ok := findExtraction(exts, "lab")
	require.True(t, ok)
	assert.Equal(t, "Tank Lab", lab.NormalizedValue)

	count := 0
	for _, e := range exts {
		if e.FieldName == "lab" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractFromUtteranceNoSignals(t *testing.T) {
	engine := NewEngine(nil, nil, nil)
	assert.Empty(t, engine.ExtractFromUtterance("thanks, looks good"))
}
