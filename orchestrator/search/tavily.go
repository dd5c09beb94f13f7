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

// TavilyEndpoint is the Tavily search API.
const TavilyEndpoint = "https://api.tavily.com/search"

type tavilySearcher struct {
	apiKey     string
	maxResults int
	endpoint   string
	client     HTTPClient
}

func newTavily(apiKey string, maxResults int, o options) *tavilySearcher {
	endpoint := o.endpoint
	if endpoint == "" {
		endpoint = TavilyEndpoint
	}
	return &tavilySearcher{apiKey: apiKey, maxResults: maxResults, endpoint: endpoint, client: o.client}
}

// Search implements Searcher. Tavily takes the key in the body.
func (s *tavilySearcher) Search(ctx context.Context, query string) ([]Result, error) {
	body := map[string]any{
		"api_key":             s.apiKey,
		"query":               query,
		"max_results":         s.maxResults,
		"search_depth":        "basic",
		"include_answer":      false,
		"include_raw_content": false,
	}

	var resp struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}

	if err := postJSON(ctx, s.client, "tavily", s.endpoint, nil, body, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return results, nil
}
