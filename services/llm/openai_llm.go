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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("budgetcliff.llm.openai")

const openaiSecretPath = "/run/secrets/openai_api_key"

// OpenAIClient generates through any OpenAI-compatible chat completions
// endpoint, including vLLM and llama.cpp servers.
type OpenAIClient struct {
	client *openai.Client
	model  string
	system string
	params GenerationParams
	logger *slog.Logger
}

// NewOpenAIClient builds a client from cfg.
//
// An empty APIKey falls back to the mounted secret file. A custom BaseURL
// without any key is allowed since local servers rarely check one.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		if b, err := os.ReadFile(openaiSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(b))
			logger.Info("Read the OpenAI API key from secret file", "path", openaiSecretPath)
		} else if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai backend: no API key configured")
		}
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai backend: model is required")
	}

	occ := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	occ.HTTPClient = &http.Client{Timeout: timeout}

	logger.Info("Initializing OpenAI client", "model", cfg.Model, "base_url", occ.BaseURL)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(occ),
		model:  cfg.Model,
		system: cfg.System,
		params: cfg.Params,
		logger: logger,
	}, nil
}

// Generate implements Generator. TokensUsed is the completion token count
// from the usage block.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (Generation, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.max_tokens", maxTokens))

	var messages []openai.ChatCompletionMessage
	if o.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: o.params.Temperature,
		TopP:        o.params.TopP,
		Stop:        o.params.Stop,
		Seed:        o.params.Seed,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("OpenAI API call failed", "model", o.model, "error", err)
		return Generation{}, newGenerationError(BackendOpenAI, o.model, openaiStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("no choices returned")
		span.SetStatus(codes.Error, err.Error())
		return Generation{}, newGenerationError(BackendOpenAI, o.model, http.StatusOK, err)
	}

	choice := resp.Choices[0]
	span.SetAttributes(attribute.Int("llm.tokens_used", resp.Usage.CompletionTokens))
	o.logger.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason, "tokens", resp.Usage.CompletionTokens)
	return Generation{
		Text:         choice.Message.Content,
		TokensUsed:   resp.Usage.CompletionTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func openaiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
