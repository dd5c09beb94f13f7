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

package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepthink/shared/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SearchConfig
		wantErr string
		isNone  bool
	}{
		{name: "none", cfg: config.SearchConfig{Provider: "none"}, isNone: true},
		{name: "empty provider", cfg: config.SearchConfig{}, isNone: true},
		{name: "exa without key", cfg: config.SearchConfig{Provider: "exa"}, wantErr: "API key not configured"},
		{name: "tavily without key", cfg: config.SearchConfig{Provider: "tavily"}, wantErr: "API key not configured"},
		{name: "unknown", cfg: config.SearchConfig{Provider: "bing"}, wantErr: "unknown search provider"},
		{name: "exa ok", cfg: config.SearchConfig{Provider: "exa", ExaAPIKey: "k"}},
		{name: "tavily ok", cfg: config.SearchConfig{Provider: "tavily", TavilyAPIKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			switch {
			case tt.isNone:
				assert.ErrorIs(t, err, ErrDisabled)
			case tt.wantErr != "":
				assert.ErrorContains(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.NotNil(t, s)
			}
		})
	}
}

func TestExaSearch(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "exa-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go 1.24","url":"https://go.dev/doc/go1.24","text":"Release notes","score":0.9},
			{"title":"Fallback","url":"https://example.com","snippet":"only snippet"}
		]}`))
	}))
	defer server.Close()

	s, err := New(config.SearchConfig{Provider: "exa", ExaAPIKey: "exa-key", MaxResults: 3}, WithEndpoint(server.URL))
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "latest go release")
	require.NoError(t, err)

	assert.Equal(t, "latest go release", got["query"])
	assert.Equal(t, float64(3), got["numResults"])
	require.Len(t, results, 2)
	assert.Equal(t, Result{Title: "Go 1.24", URL: "https://go.dev/doc/go1.24", Snippet: "Release notes", Score: 0.9}, results[0])
	assert.Equal(t, "only snippet", results[1].Snippet)
}

func TestTavilySearch(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[{"title":"CVE-2024-1","url":"https://nvd.example","content":"details","score":0.5}]}`))
	}))
	defer server.Close()

	s, err := New(config.SearchConfig{Provider: "tavily", TavilyAPIKey: "tv-key", MaxResults: 5}, WithEndpoint(server.URL))
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "cve feed")
	require.NoError(t, err)

	assert.Equal(t, "tv-key", got["api_key"])
	assert.Equal(t, "basic", got["search_depth"])
	require.Len(t, results, 1)
	assert.Equal(t, "details", results[0].Snippet)
}

func TestSearchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	s, err := New(config.SearchConfig{Provider: "tavily", TavilyAPIKey: "k"}, WithEndpoint(server.URL))
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "q")
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
	assert.Equal(t, "tavily", serr.Provider)
}

func TestSearchBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	s, err := New(config.SearchConfig{Provider: "exa", ExaAPIKey: "k"}, WithEndpoint(server.URL))
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "q")
	assert.ErrorContains(t, err, "failed to decode response")
}
