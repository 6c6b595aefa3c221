// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ReasoningClient is the contract the chat agent and recommendation
// normalizer need from a language model service.
type ReasoningClient interface {
	// Complete sends a conversation and returns the assistant text.
	// When jsonMode is set the service is asked for a JSON object.
	Complete(ctx context.Context, messages []ChatMessage, temperature float64, jsonMode bool) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *Logger
}

// NewOpenAIClient creates a client for the configured endpoint. Returns
// nil when no API key is configured; callers treat a nil client as the
// reasoning service being unavailable.
func NewOpenAIClient(config *Config, logger *Logger) *OpenAIClient {
	if config.OpenAIAPIKey == "" {
		logger.Info("OPENAI_API_KEY not set; reasoning features disabled")
		return nil
	}
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(config.OpenAIBaseURL, "/"),
		apiKey:  config.OpenAIAPIKey,
		model:   config.RecommendationModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.WithComponent("reasoning"),
	}
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements ReasoningClient
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage, temperature float64, jsonMode bool) (string, error) {
	payload := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	}
	if jsonMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.LogReasoningCall("completion", c.model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("completion request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	for _, choice := range completion.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content, nil
		}
	}
	return "", nil
}
