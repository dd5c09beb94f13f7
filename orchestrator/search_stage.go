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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepthink/orchestrator/search"
	"deepthink/orchestrator/state"
	"deepthink/shared/config"
)

// searchStage appends web search results to the context. Every failure
// degrades to no change.
type searchStage struct {
	rt *pipeline
}

func (st *searchStage) Execute(ctx context.Context, s *state.AgentState, _ Emitter) (state.Delta, error) {
	log := st.rt.logger
	stage := string(state.StageSearch)

	if !shouldSearch(s.Config.Search, s.Query.Text, s.FileText != "") {
		promSearches.WithLabelValues("skipped").Inc()
		return state.Delta{}, nil
	}

	searcher, err := st.rt.newSearcher(s.Config.Search)
	if err != nil {
		if !errors.Is(err, search.ErrDisabled) {
			log.Warn(st.rt.runID, stage, "search unavailable", map[string]interface{}{"error": err.Error()})
		}
		promSearches.WithLabelValues("unavailable").Inc()
		return state.Delta{}, nil
	}

	results, err := searcher.Search(ctx, s.Query.Text)
	if err != nil {
		log.Warn(st.rt.runID, stage, "search failed", map[string]interface{}{"error": err.Error()})
		promSearches.WithLabelValues("error").Inc()
		return state.Delta{}, nil
	}
	if len(results) == 0 {
		promSearches.WithLabelValues("empty").Inc()
		return state.Delta{}, nil
	}

	promSearches.WithLabelValues("success").Inc()
	log.Info(st.rt.runID, stage, "search results added", map[string]interface{}{"results": len(results)})
	return state.Delta{
		Context:       state.Ptr(appendSection(s.Context, formatSearchResults(results))),
		SearchResults: results,
	}, nil
}

// shouldSearch gates the search call. With meaningful file text the query
// must ask for external information explicitly.
func shouldSearch(cfg config.SearchConfig, query string, hasFileText bool) bool {
	if !cfg.Enabled || cfg.Provider == "" || cfg.Provider == config.SearchProviderNone {
		return false
	}
	if !hasFileText {
		return true
	}
	return NeedsExternalInfo(query)
}

func formatSearchResults(results []search.Result) string {
	var b strings.Builder
	b.WriteString("## Web Search Results:\n\n")
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. **%s**\n   URL: %s\n   %s", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
