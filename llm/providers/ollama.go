package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/neurodataworks/conversant/llm"
)

// OllamaProvider implements the native Ollama chat API. For Ollama's
// OpenAI-compatible endpoint use the "openai" provider with a base URL
// of http://localhost:11434/v1 instead.
type OllamaProvider struct{}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the native chat endpoint.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/api/chat") {
		return baseURL
	}

	return baseURL + "/api/chat"
}

// SetHeaders is a no-op; local Ollama needs no authentication.
func (o *OllamaProvider) SetHeaders(_ *http.Request) {}

// ollamaRequest is the native Ollama chat request format.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// BuildRequestBody creates the native Ollama request body.
func (o *OllamaProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	apiMessages := make([]ollamaMessage, len(messages))
	for i, msg := range messages {
		apiMessages[i] = ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := ollamaRequest{
		Model:    model,
		Messages: apiMessages,
		Stream:   false,
	}

	if temperature != nil || maxTokens > 0 {
		opts := &ollamaOptions{Temperature: temperature}
		if maxTokens > 0 {
			opts.NumPredict = &maxTokens
		}
		req.Options = opts
	}

	return json.Marshal(req)
}

// ollamaResponse is the native Ollama chat response format.
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// ParseResponse extracts content from a native Ollama response.
func (o *OllamaProvider) ParseResponse(body []byte, _ string) (*llm.Response, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}

	if resp.Message.Content == "" {
		return nil, fmt.Errorf("empty message in response")
	}

	return &llm.Response{
		Content: resp.Message.Content,
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		FinishReason: resp.DoneReason,
	}, nil
}
