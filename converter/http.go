package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// maxResponseSize limits conversion engine response bodies.
const maxResponseSize = 10 * 1024 * 1024

// apiError classifies conversion engine failures for retry decisions.
type apiError struct {
	err       error
	transient bool
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

// isTransient reports whether an error may succeed on retry.
func isTransient(err error) bool {
	var api *apiError
	return errors.As(err, &api) && api.transient
}

// RetryConfig bounds retries against the remote conversion engine.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig returns retry defaults for conversion engine calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// HTTPConverter calls a remote conversion engine over HTTP. Transient
// failures retry with jittered exponential backoff; fatal failures return
// immediately.
type HTTPConverter struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
}

// HTTPOption configures an HTTPConverter.
type HTTPOption func(*HTTPConverter)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPConverter) { h.httpClient = c }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) HTTPOption {
	return func(h *HTTPConverter) { h.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTPConverter) { h.logger = logger }
}

// NewHTTP creates a converter client for a remote conversion engine.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTPConverter {
	h := &HTTPConverter{
		baseURL: baseURL,
		retry:   DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DetectFormat implements Converter.
func (h *HTTPConverter) DetectFormat(ctx context.Context, inputRef string) (*DetectResult, error) {
	var result DetectResult
	err := h.post(ctx, "/v1/detect", map[string]any{"input_ref": inputRef}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RunConversion implements Converter.
func (h *HTTPConverter) RunConversion(ctx context.Context, inputRef string, merged map[string]string) (*ConvertResult, error) {
	var result ConvertResult
	err := h.post(ctx, "/v1/convert", map[string]any{
		"input_ref": inputRef,
		"metadata":  merged,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ApplyCorrections implements Converter.
func (h *HTTPConverter) ApplyCorrections(ctx context.Context, outputRef string, fixes []Fix) (string, error) {
	var result struct {
		OutputRef string `json:"output_ref"`
	}
	err := h.post(ctx, "/v1/corrections", map[string]any{
		"output_ref": outputRef,
		"fixes":      fixes,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.OutputRef, nil
}

// post sends a request with retry on transient failures.
func (h *HTTPConverter) post(ctx context.Context, path string, payload any, out any) error {
	var lastErr error

	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		err := h.doPost(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		if attempt == h.retry.MaxAttempts {
			break
		}

		backoff := h.backoff(attempt)
		h.logger.Debug("Conversion engine call failed, retrying",
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("conversion engine %s failed after %d attempts: %w", path, h.retry.MaxAttempts, lastErr)
}

// backoff computes jittered exponential backoff for an attempt.
func (h *HTTPConverter) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= h.retry.BackoffMultiplier
	}
	backoff := time.Duration(float64(h.retry.BackoffBase) * multiplier)
	if backoff > h.retry.MaxBackoff {
		backoff = h.retry.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doPost executes a single request against the conversion engine.
func (h *HTTPConverter) doPost(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &apiError{err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &apiError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		// Network errors are transient.
		return &apiError{err: fmt.Errorf("conversion engine request: %w", err), transient: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &apiError{err: fmt.Errorf("read response: %w", err), transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &apiError{err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

// classifyStatus maps HTTP status codes to transient or fatal errors.
func classifyStatus(statusCode int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	err := fmt.Errorf("conversion engine error (status %d): %s", statusCode, detail)

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode >= http.StatusInternalServerError:
		return &apiError{err: err, transient: true}
	default:
		return &apiError{err: err}
	}
}
