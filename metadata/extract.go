package metadata

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Deterministic signal extraction. This is the degraded-mode extractor used
// when the language understanding service is unavailable, and the always-on
// extractor for filename and header signals.

var (
	// isoDateRe matches 2024-03-15 optionally with a time component.
	isoDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})([T ]\d{2}:\d{2}(:\d{2})?)?\b`)
	// compactDateRe matches 20240315 embedded in filename tokens.
	compactDateRe = regexp.MustCompile(`\b(\d{4})(\d{2})(\d{2})\b`)
	// subjectTokenRe matches subject tokens like sub-012, subj12, m042.
	subjectTokenRe = regexp.MustCompile(`(?i)\b(?:sub|subj|subject|animal|m)[-_]?(\d{1,5})\b`)
	// keyValueRe matches "field: value" or "field = value" in utterances.
	keyValueRe = regexp.MustCompile(`(?i)([a-z][a-z0-9 _]{1,40}?)\s*(?::|=|\bis\b|\bwas\b)\s*([^,;.\n]+)`)
	// sexWordRe matches a standalone sex statement.
	sexWordRe = regexp.MustCompile(`(?i)\b(male|female)\b`)
)

// utteranceFieldAliases maps spoken field names to canonical field names.
var utteranceFieldAliases = map[string]string{
	"subject":             "subject_id",
	"subject id":          "subject_id",
	"animal":              "subject_id",
	"animal id":           "subject_id",
	"species":             "species",
	"sex":                 "sex",
	"experimenter":        "experimenter",
	"recorded by":         "experimenter",
	"institution":         "institution",
	"university":          "institution",
	"lab":                 "lab",
	"laboratory":          "lab",
	"device":              "device",
	"probe":               "device",
	"session":             "session_description",
	"description":         "session_description",
	"session description": "session_description",
	"start time":          "session_start_time",
	"session start":       "session_start_time",
	"session start time":  "session_start_time",
	"date":                "session_start_time",
	"identifier":          "identifier",
	"id":                  "identifier",
}

// headerFieldAliases maps recording-file header keys to canonical fields.
var headerFieldAliases = map[string]string{
	"subject":      "subject_id",
	"subject_id":   "subject_id",
	"animal":       "subject_id",
	"species":      "species",
	"sex":          "sex",
	"experimenter": "experimenter",
	"institution":  "institution",
	"lab":          "lab",
	"device":       "device",
	"system":       "device",
	"start_time":   "session_start_time",
	"date":         "session_start_time",
	"description":  "session_description",
}

// ExtractFromFilename derives descriptive fields from filename tokens.
// Filename signals are inherently noisy, so confidence stays in the medium
// band except for unambiguous vocabulary hits.
func (e *Engine) ExtractFromFilename(name string) []Extraction {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(filepath.Base(name)))
	// Underscores count as word characters to the regexp engine, so split
	// underscore-delimited filename tokens before matching.
	tokens := strings.ReplaceAll(base, "_", " ")
	lower := strings.ToLower(tokens)
	var exts []Extraction

	if m := isoDateRe.FindStringSubmatch(tokens); m != nil {
		value := m[1]
		if m[2] != "" {
			value += "T" + strings.TrimLeft(m[2], "T ")
		}
		exts = append(exts, e.newExtraction("session_start_time", value, 75))
	} else if m := compactDateRe.FindStringSubmatch(tokens); m != nil {
		exts = append(exts, e.newExtraction("session_start_time", m[1]+"-"+m[2]+"-"+m[3], 60))
	}

	if m := subjectTokenRe.FindStringSubmatch(tokens); m != nil {
		exts = append(exts, e.newExtraction("subject_id", strings.ToLower(m[0]), 70))
	}

	for token, canonical := range e.rules.Vocabulary["species"] {
		if strings.Contains(lower, token) {
			ext := e.newExtraction("species", canonical, 85)
			ext.RawValue = token
			exts = append(exts, ext)
			break
		}
	}

	return exts
}

// ExtractFromHeader derives descriptive fields from recording-file header
// key/value pairs. Headers are structured, so confidence is high.
func (e *Engine) ExtractFromHeader(header map[string]string) []Extraction {
	var exts []Extraction
	for key, value := range header {
		field, ok := headerFieldAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		exts = append(exts, e.newExtraction(field, value, 90))
	}
	return exts
}

// ExtractFromUtterance derives descriptive fields from free text using
// deterministic patterns: "field: value" / "field is value" statements,
// controlled-vocabulary keywords, and dates.
func (e *Engine) ExtractFromUtterance(text string) []Extraction {
	var exts []Extraction
	seen := make(map[string]bool)

	for _, m := range keyValueRe.FindAllStringSubmatch(text, -1) {
		alias := strings.ToLower(strings.TrimSpace(m[1]))
		// "the subject is sub-012" should resolve the same as "subject is".
		for _, article := range []string{"the ", "a ", "an ", "my ", "our "} {
			if rest, found := strings.CutPrefix(alias, article); found {
				alias = rest
				break
			}
		}
		field, ok := utteranceFieldAliases[alias]
		if !ok {
			continue
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		exts = append(exts, e.newExtraction(field, strings.TrimSpace(m[2]), 85))
	}

	lower := strings.ToLower(text)
	if !seen["species"] {
		for token, canonical := range e.rules.Vocabulary["species"] {
			if strings.Contains(lower, token) {
				ext := e.newExtraction("species", canonical, 80)
				ext.RawValue = token
				exts = append(exts, ext)
				seen["species"] = true
				break
			}
		}
	}
	if !seen["sex"] {
		if m := sexWordRe.FindString(text); m != "" {
			exts = append(exts, e.newExtraction("sex", m, 80))
			seen["sex"] = true
		}
	}
	if !seen["session_start_time"] {
		if m := isoDateRe.FindStringSubmatch(text); m != nil {
			value := m[1]
			if m[2] != "" {
				value += "T" + strings.TrimLeft(m[2], "T ")
			}
			exts = append(exts, e.newExtraction("session_start_time", value, 85))
		}
	}

	return exts
}

// newExtraction builds a normalized extraction for a field.
func (e *Engine) newExtraction(field, raw string, confidence int) Extraction {
	normalized := e.rules.Normalize(field, raw)
	return Extraction{
		FieldName:       field,
		RawValue:        raw,
		NormalizedValue: normalized,
		Confidence:      confidence,
		NeedsReview:     TierFor(confidence) == TierMedium,
	}
}
