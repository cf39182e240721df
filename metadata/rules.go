package metadata

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleSet holds the normalization rules applied to raw field values:
// abbreviation expansion and per-field vocabulary canonicalization.
type RuleSet struct {
	// Abbreviations maps shorthand tokens to their expansions, applied
	// token-wise to free-text values.
	Abbreviations map[string]string `yaml:"abbreviations"`

	// Vocabulary maps field name to a canonicalization table for that
	// field's controlled vocabulary. Lookup is case-insensitive.
	Vocabulary map[string]map[string]string `yaml:"vocabulary"`
}

// DefaultRuleSet returns the built-in normalization rules.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Abbreviations: map[string]string{
			"expt":  "experiment",
			"rec":   "recording",
			"stim":  "stimulation",
			"elec":  "electrode",
			"behav": "behavior",
			"anes":  "anesthetized",
		},
		Vocabulary: map[string]map[string]string{
			"species": {
				"mouse":     "Mus musculus",
				"mice":      "Mus musculus",
				"rat":       "Rattus norvegicus",
				"rats":      "Rattus norvegicus",
				"zebrafish": "Danio rerio",
				"macaque":   "Macaca mulatta",
				"monkey":    "Macaca mulatta",
				"human":     "Homo sapiens",
			},
			"sex": {
				"male":    "M",
				"m":       "M",
				"female":  "F",
				"f":       "F",
				"unknown": "U",
				"other":   "O",
			},
		},
	}
}

// LoadRuleSet reads normalization rules from a YAML file, merging them over
// the defaults so partial rule files extend rather than replace.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}

	var loaded RuleSet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}

	rules := DefaultRuleSet()
	for k, v := range loaded.Abbreviations {
		rules.Abbreviations[strings.ToLower(k)] = v
	}
	for field, table := range loaded.Vocabulary {
		if rules.Vocabulary[field] == nil {
			rules.Vocabulary[field] = make(map[string]string)
		}
		for k, v := range table {
			rules.Vocabulary[field][strings.ToLower(k)] = v
		}
	}
	return rules, nil
}

// Normalize canonicalizes a raw value for a field. Vocabulary lookups win;
// otherwise abbreviations are expanded token-wise and whitespace collapsed.
func (r *RuleSet) Normalize(field, raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	if table, ok := r.Vocabulary[field]; ok {
		if canonical, ok := table[strings.ToLower(value)]; ok {
			return canonical
		}
	}

	tokens := strings.Fields(value)
	for i, tok := range tokens {
		if expansion, ok := r.Abbreviations[strings.ToLower(tok)]; ok {
			tokens[i] = expansion
		}
	}
	return strings.Join(tokens, " ")
}

// HasVocabulary reports whether a field has a controlled vocabulary.
func (r *RuleSet) HasVocabulary(field string) bool {
	_, ok := r.Vocabulary[field]
	return ok
}
