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
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deepthink/orchestrator/llm"
	"deepthink/orchestrator/search"
	"deepthink/orchestrator/state"
	"deepthink/shared/config"
	"deepthink/shared/logger"
)

const mockProviderType llm.ProviderType = "mock"

// scriptedProvider answers each pipeline call by the kind of prompt it
// receives. Tests override individual kinds.
type scriptedProvider struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]func(req llm.CompletionRequest) (string, error)

	expertDelay time.Duration
	inFlight    int
	maxInFlight int
}

func newScriptedProvider() *scriptedProvider {
	p := &scriptedProvider{
		calls: make(map[string]int),
		responses: map[string]func(llm.CompletionRequest) (string, error){
			"planner": reply(`{"analysis":"needs a few angles","complexity":"simple","experts":[{"role":"Database Engineer","description":"storage internals","temperature":0.4,"variant":"conservative"}]}`),
			"summary": reply("The file describes a quarterly report."),
			"expert": func(req llm.CompletionRequest) (string, error) {
				return fmt.Sprintf("<thoughts>thinking as %s</thoughts><response>answer from %s</response>", roleOf(req), roleOf(req)), nil
			},
			"critic":     reply("```json\n{\"contradictions\":[],\"missing_perspectives\":[\"cost\"],\"weak_points\":[],\"suggestions\":[\"add numbers\"]}\n```"),
			"reviewer":   reply(`{"completeness":0.9,"consistency":0.8,"confidence":0.85,"overall":0.85,"satisfied":true,"reasoning":"good"}`),
			"synthesis":  reply("<thoughts>weighing experts</thoughts>\nFinal answer."),
			"structured": reply(`Here you go: {"summary":"short","key_points":["a"],"confidence_level":"high"}`),
		},
	}
	return p
}

func reply(text string) func(llm.CompletionRequest) (string, error) {
	return func(llm.CompletionRequest) (string, error) { return text, nil }
}

func fail(msg string) func(llm.CompletionRequest) (string, error) {
	return func(llm.CompletionRequest) (string, error) { return "", errors.New(msg) }
}

// roleOf extracts the expert role from the expert system prompt.
func roleOf(req llm.CompletionRequest) string {
	sys, _ := req.SystemAndTurns()
	sys = strings.TrimPrefix(sys, "You are a ")
	if i := strings.Index(sys, "."); i >= 0 {
		return sys[:i]
	}
	return sys
}

func classify(req llm.CompletionRequest) string {
	sys, turns := req.SystemAndTurns()
	switch sys {
	case plannerSystemPrompt:
		return "planner"
	case criticSystemPrompt:
		return "critic"
	case reviewerSystemPrompt:
		return "reviewer"
	case synthesisSystemPrompt:
		return "synthesis"
	case structuredSystemPrompt:
		return "structured"
	case "":
		if len(turns) > 0 && strings.HasPrefix(turns[0].Content, "Summarize and analyze") {
			return "summary"
		}
		return "unknown"
	default:
		return "expert"
	}
}

func (p *scriptedProvider) set(kind string, fn func(llm.CompletionRequest) (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[kind] = fn
}

func (p *scriptedProvider) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

func (p *scriptedProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *scriptedProvider) Name() string           { return "scripted" }
func (p *scriptedProvider) Type() llm.ProviderType { return mockProviderType }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	kind := classify(req)

	p.mu.Lock()
	p.calls[kind]++
	fn := p.responses[kind]
	delay := p.expertDelay
	if kind == "expert" {
		p.inFlight++
		if p.inFlight > p.maxInFlight {
			p.maxInFlight = p.inFlight
		}
	}
	p.mu.Unlock()

	if kind == "expert" {
		defer func() {
			p.mu.Lock()
			p.inFlight--
			p.mu.Unlock()
		}()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if fn == nil {
		return nil, fmt.Errorf("no scripted response for %s", kind)
	}
	content, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: "scripted-1"}, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthCheckResult, error) {
	return &llm.HealthCheckResult{Status: llm.HealthStatusHealthy, LastChecked: time.Now()}, nil
}

// fakeSearcher records queries and returns fixed results.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results []search.Result
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type testEnv struct {
	provider *scriptedProvider
	searcher *fakeSearcher
	store    *config.Store
	gateway  *llm.Gateway
	engine   *Engine
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = string(mockProviderType)
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.BaseURL = ""
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	provider := newScriptedProvider()
	factories := llm.NewEmptyFactoryManager()
	factories.Register(mockProviderType, func(llm.ProviderConfig) (llm.Provider, error) {
		return provider, nil
	})
	gateway := llm.NewGateway(
		llm.WithFactoryManager(factories),
		llm.WithLogger(log.New(io.Discard, "", 0)),
	)

	searcher := &fakeSearcher{results: []search.Result{
		{Title: "Release notes", URL: "https://example.com/notes", Snippet: "Version 2 shipped."},
	}}
	store := config.NewStore(cfg)
	engine := NewEngine(gateway, store,
		WithEngineLogger(logger.Discard("engine")),
		WithSearcherFactory(func(config.SearchConfig) (search.Searcher, error) { return searcher, nil }),
	)

	return &testEnv{provider: provider, searcher: searcher, store: store, gateway: gateway, engine: engine}
}

func collect(t *testing.T, ch <-chan state.Update) []state.Update {
	t.Helper()
	var updates []state.Update
	timeout := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-timeout:
			require.FailNow(t, "stream did not finish")
		}
	}
}

// stageSequence lists the stage of every node_start update.
func stageSequence(updates []state.Update) []state.Stage {
	var stages []state.Stage
	for _, u := range updates {
		if u.Type == state.UpdateNodeStart {
			stages = append(stages, u.Stage)
		}
	}
	return stages
}

func countType(updates []state.Update, typ state.UpdateType) int {
	n := 0
	for _, u := range updates {
		if u.Type == typ {
			n++
		}
	}
	return n
}
