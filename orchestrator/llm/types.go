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
	"fmt"
	"net/http"
	"time"
)

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	// ProviderTypeOpenAI is any OpenAI-compatible chat completions API.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeAnthropic is the Anthropic messages API.
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeBedrock is AWS Bedrock through the runtime SDK.
	ProviderTypeBedrock ProviderType = "bedrock"

	// ProviderTypeOllama is a local Ollama server speaking the OpenAI protocol.
	ProviderTypeOllama ProviderType = "ollama"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-neutral request.
type CompletionRequest struct {
	Messages []Message `json:"messages"`

	// Temperature controls randomness. Negative means provider default.
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Model overrides the provider's configured model.
	Model string `json:"model,omitempty"`
}

// SystemAndTurns splits leading system messages from the conversation.
func (r CompletionRequest) SystemAndTurns() (string, []Message) {
	var system string
	turns := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}

// CompletionResponse is the provider-neutral response.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Usage        UsageStats    `json:"usage"`
	Latency      time.Duration `json:"latency"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// UsageStats tracks token usage.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HealthStatus represents the health state of a provider.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheckResult contains health check information.
type HealthCheckResult struct {
	Status      HealthStatus  `json:"status"`
	Latency     time.Duration `json:"latency"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// ProviderError represents an error returned by an upstream model API.
type ProviderError struct {
	Provider   string `json:"provider"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"retryable"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	ErrCodeRateLimit      = "rate_limit"
	ErrCodeAuth           = "authentication_error"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeModelNotFound  = "model_not_found"
	ErrCodeServerError    = "server_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeBadResponse    = "bad_response"
)

// NewProviderError creates a ProviderError.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// statusError maps an HTTP status to a ProviderError.
func statusError(provider string, statusCode int, body string) *ProviderError {
	code := ErrCodeServerError
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = ErrCodeAuth
	case statusCode == http.StatusTooManyRequests:
		code = ErrCodeRateLimit
	case statusCode == http.StatusNotFound:
		code = ErrCodeModelNotFound
	case statusCode >= 400 && statusCode < 500:
		code = ErrCodeInvalidRequest
	}
	e := NewProviderError(provider, code, body)
	e.StatusCode = statusCode
	return e
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
