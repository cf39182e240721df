package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/neurodataworks/conversant/metadata"
	"github.com/neurodataworks/conversant/validation"
)

// IssueAssessment is a model-produced explanation of one validation issue.
type IssueAssessment struct {
	// Message echoes the issue message being assessed.
	Message string `json:"message"`

	// Field is the descriptive field at fault, if the model identified one.
	Field string `json:"field,omitempty"`

	// Category is the model's remediation judgment: "auto_fixable",
	// "needs_approval", or "needs_user_input".
	Category string `json:"category"`

	// Explanation is a user-facing account of the problem and the fix.
	Explanation string `json:"explanation"`
}

// Service exposes the conversational operations used by the engine. It
// enforces single-flight access: one request at a time, with concurrent
// callers rejected immediately via ErrBusy rather than queued.
type Service struct {
	client *Client
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewService creates a service over a configured client. A nil client
// yields a service whose Available() reports false.
func NewService(client *Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client: client,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
}

// Available reports whether a model endpoint is configured.
func (s *Service) Available() bool {
	return s != nil && s.client.Available()
}

// acquire claims the single request slot without blocking.
func (s *Service) acquire() error {
	if !s.sem.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

// ExtractFields asks the model to pull metadata field values out of a user
// utterance. Returned extractions carry the model's confidence so the
// engine can tier them the same way file-derived values are tiered.
func (s *Service) ExtractFields(ctx context.Context, utterance string, schemas []metadata.FieldSchema) ([]metadata.Extraction, error) {
	if !s.Available() {
		return nil, NewFatalError(fmt.Errorf("no language endpoint configured"))
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	resp, err := s.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: extractSystemPrompt(schemas)},
			{Role: "user", Content: utterance},
		},
		Temperature: floatPtr(0),
	})
	if err != nil {
		return nil, err
	}

	raw := ExtractJSONArray(resp.Content)
	if raw == "" {
		return nil, NewFatalError(fmt.Errorf("no JSON array in model response"))
	}

	var parsed []struct {
		Field      string `json:"field"`
		Value      string `json:"value"`
		Confidence int    `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, NewFatalError(fmt.Errorf("parse extraction response: %w", err))
	}

	known := make(map[string]bool, len(schemas))
	for _, schema := range schemas {
		known[schema.Name] = true
	}

	extractions := make([]metadata.Extraction, 0, len(parsed))
	for _, p := range parsed {
		if !known[p.Field] || strings.TrimSpace(p.Value) == "" {
			continue
		}
		confidence := p.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}
		extractions = append(extractions, metadata.Extraction{
			FieldName:       p.Field,
			RawValue:        p.Value,
			NormalizedValue: p.Value,
			Confidence:      confidence,
		})
	}

	s.logger.Debug("Extracted fields from utterance",
		"request_id", resp.RequestID,
		"candidates", len(parsed),
		"accepted", len(extractions))
	return extractions, nil
}

// ClassifyIssues asks the model to group and explain validation issues.
// Every input issue appears in the output; issues the model failed to
// assess default to needs_user_input.
func (s *Service) ClassifyIssues(ctx context.Context, issues []validation.Issue) ([]IssueAssessment, error) {
	if !s.Available() {
		return nil, NewFatalError(fmt.Errorf("no language endpoint configured"))
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	payload, err := json.Marshal(issues)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode issues: %w", err))
	}

	resp, err := s.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Temperature: floatPtr(0),
	})
	if err != nil {
		return nil, err
	}

	raw := ExtractJSONArray(resp.Content)
	if raw == "" {
		return nil, NewFatalError(fmt.Errorf("no JSON array in model response"))
	}

	var assessments []IssueAssessment
	if err := json.Unmarshal([]byte(raw), &assessments); err != nil {
		return nil, NewFatalError(fmt.Errorf("parse assessment response: %w", err))
	}

	assessed := make(map[string]bool, len(assessments))
	for i, a := range assessments {
		if !validCategory(a.Category) {
			assessments[i].Category = "needs_user_input"
		}
		assessed[a.Message] = true
	}
	for _, issue := range issues {
		if !assessed[issue.Message] {
			assessments = append(assessments, IssueAssessment{
				Message:  issue.Message,
				Category: "needs_user_input",
			})
		}
	}

	s.logger.Debug("Classified validation issues",
		"request_id", resp.RequestID,
		"issues", len(issues),
		"assessments", len(assessments))
	return assessments, nil
}

func validCategory(category string) bool {
	switch category {
	case "auto_fixable", "needs_approval", "needs_user_input":
		return true
	}
	return false
}

func extractSystemPrompt(schemas []metadata.FieldSchema) string {
	var sb strings.Builder
	sb.WriteString("You extract experiment metadata from a researcher's message.\n")
	sb.WriteString("Known fields:\n")
	for _, schema := range schemas {
		fmt.Fprintf(&sb, "- %s: %s\n", schema.Name, schema.Description)
	}
	sb.WriteString("Respond with only a JSON array of objects with keys ")
	sb.WriteString(`"field", "value", and "confidence" (0-100). `)
	sb.WriteString("Include only fields the message actually mentions.")
	return sb.String()
}

const classifySystemPrompt = `You review validation issues from a neurodata file conversion.
For each issue, decide how it can be fixed:
- "auto_fixable": mechanical, safe to apply without asking
- "needs_approval": modifies existing recorded data, requires consent
- "needs_user_input": requires knowledge only the researcher has
Respond with only a JSON array of objects with keys "message" (echoing the
issue message exactly), "field", "category", and "explanation".`

func floatPtr(f float64) *float64 {
	return &f
}
