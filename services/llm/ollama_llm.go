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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("budgetcliff.llm.ollama")

// OllamaClient generates through Ollama's /api/generate endpoint.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	system     string
	params     GenerationParams
	logger     *slog.Logger
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	EvalCount  int    `json:"eval_count"`
}

// NewOllamaClient builds a client from cfg. BaseURL and Model are required.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama backend: base_url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama backend: model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	logger.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
		system:     cfg.System,
		params:     cfg.Params,
		logger:     logger,
	}, nil
}

// Generate implements Generator. maxTokens is sent as num_predict and
// TokensUsed is the response's eval_count.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, maxTokens int) (Generation, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.max_tokens", maxTokens))

	fail := func(status int, err error) (Generation, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Generation{}, newGenerationError(BackendOllama, o.model, status, err)
	}

	options := map[string]any{"num_predict": maxTokens}
	if o.params.Temperature > 0 {
		options["temperature"] = o.params.Temperature
	}
	if o.params.TopP > 0 {
		options["top_p"] = o.params.TopP
	}
	if len(o.params.Stop) > 0 {
		options["stop"] = o.params.Stop
	}
	if o.params.Seed != nil {
		options["seed"] = *o.params.Seed
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		System:  o.system,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return fail(0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Error("Ollama API call failed", "error", err)
		return fail(0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		if resp.StatusCode == http.StatusNotFound && strings.Contains(msg, "not found") {
			msg = fmt.Sprintf("model %q not found, run 'ollama pull %s'", o.model, o.model)
		}
		o.logger.Error("Ollama returned an error", "status_code", resp.StatusCode, "error", msg)
		return fail(resp.StatusCode, fmt.Errorf("%s", msg))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("parse response: %w", err))
	}

	span.SetAttributes(attribute.Int("llm.tokens_used", out.EvalCount))
	o.logger.Debug("Received response from Ollama", "done_reason", out.DoneReason, "tokens", out.EvalCount)
	return Generation{Text: out.Response, TokensUsed: out.EvalCount, FinishReason: out.DoneReason}, nil
}
