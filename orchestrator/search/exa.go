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

import "context"

// ExaEndpoint is the Exa search API.
const ExaEndpoint = "https://api.exa.ai/search"

type exaSearcher struct {
	apiKey     string
	maxResults int
	endpoint   string
	client     HTTPClient
}

func newExa(apiKey string, maxResults int, o options) *exaSearcher {
	endpoint := o.endpoint
	if endpoint == "" {
		endpoint = ExaEndpoint
	}
	return &exaSearcher{apiKey: apiKey, maxResults: maxResults, endpoint: endpoint, client: o.client}
}

// Search implements Searcher.
func (s *exaSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	body := map[string]any{
		"query":      query,
		"numResults": s.maxResults,
		"type":       "neural",
		"contents":   map[string]any{"text": true},
	}

	var resp struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Text    string  `json:"text"`
			Snippet string  `json:"snippet"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}

	if err := postJSON(ctx, s.client, "exa", s.endpoint, map[string]string{"x-api-key": s.apiKey}, body, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		snippet := r.Text
		if snippet == "" {
			snippet = r.Snippet
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: snippet, Score: r.Score})
	}
	return results, nil
}
