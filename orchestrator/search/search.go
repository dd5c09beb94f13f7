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

// Package search provides the web search capability used to enrich a run's
// context. Providers are Exa and Tavily; both are plain JSON over HTTPS.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"deepthink/shared/config"
)

// DefaultTimeout bounds a single search request.
const DefaultTimeout = 10 * time.Second

// ErrDisabled is returned by New when the configured provider is "none".
var ErrDisabled = errors.New("search provider disabled")

// Result is one ranked hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Searcher runs a web search and returns ranked results.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// HTTPClient is the subset of *http.Client used by providers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Error describes a failed search call.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s search error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s search error: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Option customizes a provider client.
type Option func(*options)

type options struct {
	client   HTTPClient
	endpoint string
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *options) { o.client = c }
}

// WithEndpoint overrides the provider URL. Used by tests.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// New builds the Searcher selected by cfg.Provider.
func New(cfg config.SearchConfig, opts ...Option) (Searcher, error) {
	o := options{client: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(&o)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	switch cfg.Provider {
	case config.SearchProviderExa:
		if cfg.ExaAPIKey == "" {
			return nil, &Error{Provider: "exa", Message: "API key not configured"}
		}
		return newExa(cfg.ExaAPIKey, maxResults, o), nil
	case config.SearchProviderTavily:
		if cfg.TavilyAPIKey == "" {
			return nil, &Error{Provider: "tavily", Message: "API key not configured"}
		}
		return newTavily(cfg.TavilyAPIKey, maxResults, o), nil
	case config.SearchProviderNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}

// postJSON sends body to url and decodes the JSON reply into out.
func postJSON(ctx context.Context, client HTTPClient, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Provider: provider, Message: "request failed", Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Provider: provider, StatusCode: resp.StatusCode, Message: string(msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Provider: provider, Message: "failed to decode response", Cause: err}
	}
	return nil
}
