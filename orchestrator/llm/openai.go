// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// OpenAIDefaultEndpoint is the OpenAI API base, including the version path.
	OpenAIDefaultEndpoint = "https://api.openai.com/v1"

	// OpenAIDefaultModel is used when no model is configured.
	OpenAIDefaultModel = "gpt-4"

	// OpenAIDefaultTimeout bounds a single completion call.
	OpenAIDefaultTimeout = 120 * time.Second

	// OllamaDefaultEndpoint is a local Ollama server's OpenAI-compatible base.
	OllamaDefaultEndpoint = "http://localhost:11434/v1"

	// OllamaDefaultModel is used when no model is configured.
	OllamaDefaultModel = "llama3.1:latest"
)

// HTTPClient is the subset of *http.Client used by HTTP providers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewOpenAIProviderFactory creates an OpenAI-compatible provider.
func NewOpenAIProviderFactory(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, invalidConfig(ProviderTypeOpenAI, "API key is required for OpenAI provider")
	}
	return newOpenAICompatible(config, ProviderTypeOpenAI, OpenAIDefaultEndpoint, OpenAIDefaultModel), nil
}

// NewOllamaProviderFactory creates a provider for a local Ollama server.
// The API key is optional.
func NewOllamaProviderFactory(config ProviderConfig) (Provider, error) {
	return newOpenAICompatible(config, ProviderTypeOllama, OllamaDefaultEndpoint, OllamaDefaultModel), nil
}

func newOpenAICompatible(config ProviderConfig, pt ProviderType, defaultEndpoint, defaultModel string) *OpenAIProvider {
	model := config.Model
	if model == "" {
		model = defaultModel
	}

	timeout := OpenAIDefaultTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}

	endpoint := strings.TrimRight(config.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	name := config.Name
	if name == "" {
		name = string(pt)
	}

	return &OpenAIProvider{
		name:         name,
		providerType: pt,
		apiKey:       config.APIKey,
		endpoint:     endpoint,
		model:        model,
		client:       &http.Client{Timeout: timeout},
		healthy:      true,
	}
}

// OpenAIProvider implements Provider for OpenAI-compatible chat APIs.
type OpenAIProvider struct {
	name         string
	providerType ProviderType
	apiKey       string
	endpoint     string
	model        string
	client       HTTPClient
	healthy      bool
	mu           sync.RWMutex
}

// Name returns the provider instance name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Type returns the provider type.
func (p *OpenAIProvider) Type() ProviderType {
	return p.providerType
}

// Complete posts to {endpoint}/chat/completions.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	body := map[string]any{
		"model":    model,
		"messages": req.Messages,
	}
	if req.Temperature >= 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		perr := NewProviderError(p.name, ErrCodeUnavailable, err.Error())
		perr.Cause = err
		return nil, perr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, statusError(p.name, resp.StatusCode, string(msg))
	}

	p.setHealthy(true)

	var openAIResp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		perr := NewProviderError(p.name, ErrCodeBadResponse, "failed to decode response")
		perr.Cause = err
		return nil, perr
	}

	if len(openAIResp.Choices) == 0 {
		return nil, NewProviderError(p.name, ErrCodeBadResponse, "response contained no choices")
	}

	return &CompletionResponse{
		Content: openAIResp.Choices[0].Message.Content,
		Model:   openAIResp.Model,
		Usage: UsageStats{
			PromptTokens:     openAIResp.Usage.PromptTokens,
			CompletionTokens: openAIResp.Usage.CompletionTokens,
			TotalTokens:      openAIResp.Usage.TotalTokens,
		},
		Latency:      time.Since(start),
		FinishReason: openAIResp.Choices[0].FinishReason,
	}, nil
}

// HealthCheck reports the health observed on recent calls.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	p.mu.RLock()
	healthy := p.healthy
	p.mu.RUnlock()

	status := HealthStatusUnhealthy
	message := "last call failed"
	if healthy {
		status = HealthStatusHealthy
		message = "provider is operational"
	}

	return &HealthCheckResult{
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}, nil
}

func (p *OpenAIProvider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

var _ Provider = (*OpenAIProvider)(nil)
