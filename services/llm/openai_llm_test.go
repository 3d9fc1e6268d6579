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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClient(Config{
		BaseURL: srv.URL + "/v1",
		APIKey:  "test-key",
		Model:   "qwen-1.5b",
		Params:  GenerationParams{Temperature: 0.7, TopP: 0.9},
	})
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got map[string]any
	c := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "qwen-1.5b",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "2 + 2 = 4\n#### 4"}, "finish_reason": "length"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 64, "total_tokens": 76}
		}`))
	})

	gen, err := c.Generate(context.Background(), "What is 2+2?", 64)
	require.NoError(t, err)
	assert.Equal(t, Generation{Text: "2 + 2 = 4\n#### 4", TokensUsed: 64, FinishReason: "length"}, gen)

	assert.Equal(t, "qwen-1.5b", got["model"])
	assert.EqualValues(t, 64, got["max_tokens"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 1)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "test_error"}}`))
			})

			_, err := c.Generate(context.Background(), "q", 32)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGeneration)

			var ge *GenerationError
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tt.status, ge.Status)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	c := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "choices": [], "usage": {"completion_tokens": 0}}`))
	})
	_, err := c.Generate(context.Background(), "q", 32)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.False(t, IsRetryable(err))
}

func TestNew(t *testing.T) {
	_, err := New(Config{Type: "anthropic"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	g, err := New(Config{Type: "OLLAMA", BaseURL: "http://localhost:11434", Model: "qwen2.5:1.5b"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, g)

	_, err = New(Config{Type: "ollama", Model: "m"})
	assert.Error(t, err)
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(ctx context.Context, prompt string, maxTokens int) (Generation, error) {
		return Generation{Text: prompt, TokensUsed: maxTokens}, nil
	})
	gen, err := g.Generate(context.Background(), "hi", 3)
	require.NoError(t, err)
	assert.Equal(t, Generation{Text: "hi", TokensUsed: 3}, gen)
}

func TestGenerationError_Cancelled(t *testing.T) {
	err := newGenerationError(BackendOllama, "m", 0, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.False(t, err.Retryable)
	assert.Contains(t, err.Error(), "ollama generation with m failed")
}
