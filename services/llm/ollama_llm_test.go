// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllamaClient(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	seed := 42
	c, err := NewOllamaClient(Config{
		BaseURL: srv.URL + "/",
		Model:   "qwen2.5:1.5b",
		Params:  GenerationParams{Temperature: 0.7, TopP: 0.9, Seed: &seed},
	})
	require.NoError(t, err)
	return c
}

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaGenerateRequest
	c := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"qwen2.5:1.5b","response":"So 3 * 4 = 12.","done":true,"done_reason":"stop","eval_count":9}`))
	})

	gen, err := c.Generate(context.Background(), "What is 3*4?", 128)
	require.NoError(t, err)
	assert.Equal(t, Generation{Text: "So 3 * 4 = 12.", TokensUsed: 9, FinishReason: "stop"}, gen)

	assert.Equal(t, "qwen2.5:1.5b", got.Model)
	assert.False(t, got.Stream)
	assert.EqualValues(t, 128, got.Options["num_predict"])
	assert.EqualValues(t, 42, got.Options["seed"])
	assert.InDelta(t, 0.7, got.Options["temperature"], 1e-6)
}

func TestOllamaClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		msg       string
	}{
		{"model missing", http.StatusNotFound, `{"error":"model 'qwen2.5:1.5b' not found"}`, false, "ollama pull"},
		{"overloaded", http.StatusServiceUnavailable, `{"error":"server busy"}`, true, "server busy"},
		{"plain body", http.StatusBadRequest, "bad things", false, "bad things"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Generate(context.Background(), "q", 16)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGeneration)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestOllamaClient_MalformedResponse(t *testing.T) {
	c := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":`))
	})
	_, err := c.Generate(context.Background(), "q", 16)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Contains(t, err.Error(), "parse response")
}

func TestOllamaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewOllamaClient(Config{BaseURL: url, Model: "m"})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "q", 16)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.True(t, IsRetryable(err))
}
