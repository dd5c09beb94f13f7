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
	// AnthropicDefaultEndpoint is the Anthropic API base.
	AnthropicDefaultEndpoint = "https://api.anthropic.com"

	// AnthropicAPIVersion is sent in the anthropic-version header.
	AnthropicAPIVersion = "2023-06-01"

	// AnthropicDefaultModel is used when no model is configured.
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"

	// AnthropicDefaultMaxTokens is required by the messages API.
	AnthropicDefaultMaxTokens = 4096
)

// NewAnthropicProviderFactory creates an Anthropic provider from configuration.
func NewAnthropicProviderFactory(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, invalidConfig(ProviderTypeAnthropic, "API key is required for Anthropic provider")
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	timeout := 120 * time.Second
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}

	endpoint := strings.TrimRight(config.Endpoint, "/")
	if endpoint == "" {
		endpoint = AnthropicDefaultEndpoint
	}

	name := config.Name
	if name == "" {
		name = string(ProviderTypeAnthropic)
	}

	return &AnthropicProvider{
		name:     name,
		apiKey:   config.APIKey,
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		healthy:  true,
	}, nil
}

// AnthropicProvider implements Provider for the Anthropic messages API.
type AnthropicProvider struct {
	name     string
	apiKey   string
	endpoint string
	model    string
	client   HTTPClient
	healthy  bool
	mu       sync.RWMutex
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Name returns the provider instance name.
func (p *AnthropicProvider) Name() string {
	return p.name
}

// Type returns the provider type.
func (p *AnthropicProvider) Type() ProviderType {
	return ProviderTypeAnthropic
}

// Complete posts to {endpoint}/v1/messages. System messages move to the
// top-level system field.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = AnthropicDefaultMaxTokens
	}

	system, turns := req.SystemAndTurns()
	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  turns,
	}
	if req.Temperature >= 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", AnthropicAPIVersion)

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
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, statusError(p.name, resp.StatusCode, anthropicErrorMessage(body))
	}

	p.setHealthy(true)

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		perr := NewProviderError(p.name, ErrCodeBadResponse, "failed to decode response")
		perr.Cause = err
		return nil, perr
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content: content.String(),
		Model:   apiResp.Model,
		Usage: UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency:      time.Since(start),
		FinishReason: apiResp.StopReason,
	}, nil
}

func anthropicErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return string(body)
	}
	return errResp.Error.Type + ": " + errResp.Error.Message
}

// HealthCheck reports the health observed on recent calls.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	p.mu.RLock()
	healthy := p.healthy
	p.mu.RUnlock()

	status := HealthStatusUnhealthy
	if healthy {
		status = HealthStatusHealthy
	}
	return &HealthCheckResult{Status: status, LastChecked: time.Now()}, nil
}

func (p *AnthropicProvider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

var _ Provider = (*AnthropicProvider)(nil)
