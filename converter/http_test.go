package converter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHTTPRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestHTTPRunConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/convert", r.URL.Path)

		var payload struct {
			InputRef string            `json:"input_ref"`
			Metadata map[string]string `json:"metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "/data/session.rhd", payload.InputRef)
		assert.Equal(t, "Mus musculus", payload.Metadata["species"])

		json.NewEncoder(w).Encode(ConvertResult{OutputRef: "/out/session.nwb", Checksum: "abc123"})
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithRetryConfig(fastHTTPRetry(1)))
	result, err := h.RunConversion(context.Background(), "/data/session.rhd",
		map[string]string{"species": "Mus musculus"})
	require.NoError(t, err)
	assert.Equal(t, "/out/session.nwb", result.OutputRef)
	assert.Equal(t, "abc123", result.Checksum)
}

func TestHTTPRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(DetectResult{Format: "intan", Confidence: 0.85})
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithRetryConfig(fastHTTPRetry(3)))
	result, err := h.DetectFormat(context.Background(), "/data/session.rhd")
	require.NoError(t, err)
	assert.Equal(t, "intan", result.Format)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFatalErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithRetryConfig(fastHTTPRetry(3)))
	_, err := h.DetectFormat(context.Background(), "/data/session.rhd")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPApplyCorrections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/corrections", r.URL.Path)

		var payload struct {
			OutputRef string `json:"output_ref"`
			Fixes     []Fix  `json:"fixes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Fixes, 1)
		assert.Equal(t, "set", payload.Fixes[0].Action)

		json.NewEncoder(w).Encode(map[string]string{"output_ref": payload.OutputRef + ".corrected"})
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithRetryConfig(fastHTTPRetry(1)))
	corrected, err := h.ApplyCorrections(context.Background(), "/out/session.nwb",
		[]Fix{{Field: "species", Action: "set", Value: "Mus musculus"}})
	require.NoError(t, err)
	assert.Equal(t, "/out/session.nwb.corrected", corrected)
}
