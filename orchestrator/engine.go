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
	"sync"
	"time"

	"github.com/google/uuid"

	"deepthink/orchestrator/llm"
	"deepthink/orchestrator/search"
	"deepthink/orchestrator/state"
	"deepthink/shared/config"
	"deepthink/shared/logger"
)

// StreamBuffer is the capacity of the update channel returned by Stream.
const StreamBuffer = 32

// ErrNoFinalState is returned by Invoke when a run ends without a complete
// update, which happens when ctx is cancelled mid-run.
var ErrNoFinalState = errors.New("run ended without a final state")

// StageError wraps a fatal stage failure with the stage name.
type StageError struct {
	Stage state.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Stage executes one node of the pipeline. It must not modify s; its
// output is the returned delta.
type Stage interface {
	Execute(ctx context.Context, s *state.AgentState, emit Emitter) (state.Delta, error)
}

// Emitter delivers an intermediate update to the run's consumer.
type Emitter func(state.Update)

// SearcherFactory builds the Search capability for a configuration.
type SearcherFactory func(cfg config.SearchConfig) (search.Searcher, error)

// Engine runs deep-think pipelines. It is safe for concurrent use; each run
// owns its own AgentState.
type Engine struct {
	gateway     *llm.Gateway
	source      config.Source
	newSearcher SearcherFactory
	logger      *logger.Logger
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSearcherFactory replaces the search provider constructor.
func WithSearcherFactory(f SearcherFactory) EngineOption {
	return func(e *Engine) { e.newSearcher = f }
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine resolving providers through gateway and
// reading configuration from source at the start of every run.
func NewEngine(gateway *llm.Gateway, source config.Source, opts ...EngineOption) *Engine {
	e := &Engine{
		gateway: gateway,
		source:  source,
		newSearcher: func(cfg config.SearchConfig) (search.Searcher, error) {
			return search.New(cfg)
		},
		logger: logger.New("engine"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stream starts a run and returns its updates in order. The channel is
// closed after a complete or node_error update, or once ctx is cancelled.
// The caller must drain the channel or cancel ctx.
func (e *Engine) Stream(ctx context.Context, query string, opts state.Options) <-chan state.Update {
	out := make(chan state.Update, StreamBuffer)
	s := e.newState(query, opts)
	go func() {
		defer close(out)
		e.run(ctx, s, out)
	}()
	return out
}

// Invoke runs the pipeline to completion and returns the final state, or
// the first fatal failure.
func (e *Engine) Invoke(ctx context.Context, query string, opts state.Options) (*state.AgentState, error) {
	var final *state.AgentState
	var failure error
	for u := range e.Stream(ctx, query, opts) {
		switch u.Type {
		case state.UpdateComplete:
			final = u.State
		case state.UpdateNodeError:
			if failure == nil {
				failure = u.Err
				if failure == nil {
					failure = errors.New(u.Error)
				}
			}
		}
	}
	if failure != nil {
		return nil, failure
	}
	if final == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoFinalState
	}
	return final, nil
}

// newState captures the effective configuration and prepares the file text.
func (e *Engine) newState(query string, opts state.Options) *state.AgentState {
	cfg := opts.Apply(e.source.Current())
	q := opts.Query(query)

	s := &state.AgentState{
		RunID:          uuid.NewString(),
		Query:          q,
		ExpertsConfig:  []state.ExpertConfig{},
		ExpertResults:  []state.ExpertResult{},
		CriticFeedback: []string{},
		MaxRounds:      cfg.System.MaxRounds,
		StartTime:      e.now(),
		Config:         cfg,
	}

	cleaned := CleanFileText(q.FileText())
	switch {
	case IsMeaningful(cleaned):
		s.FileText = cleaned
	case q.HasFileContext() && IsFileRelatedQuery(q.Text):
		s.InsufficientFile = true
	}
	return s
}

func (e *Engine) run(ctx context.Context, s *state.AgentState, out chan<- state.Update) {
	rt := &pipeline{
		cfg:         s.Config,
		gateway:     e.gateway,
		newSearcher: e.newSearcher,
		logger:      e.logger,
		now:         e.now,
		runID:       s.RunID,
	}
	stages := rt.stages()

	send := func(u state.Update) bool {
		u.Timestamp = e.now()
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emit := func(u state.Update) { send(u) }

	e.logger.Info(s.RunID, "", "run started", map[string]interface{}{
		"max_rounds": s.MaxRounds,
		"has_file":   s.FileText != "",
		"provider":   s.Config.LLM.Provider,
	})

	stage := startStage(s)
	for {
		if ctx.Err() != nil {
			e.logger.Warn(s.RunID, string(stage), "run cancelled", nil)
			return
		}
		if !send(state.Update{Type: state.UpdateNodeStart, Stage: stage, State: s.Clone()}) {
			return
		}

		started := time.Now()
		delta, err := stages[stage].Execute(ctx, s, emit)
		if err == nil {
			err = delta.Apply(s)
		}
		elapsed := time.Since(started)

		if err != nil {
			serr := &StageError{Stage: stage, Err: err}
			promStageFailures.WithLabelValues(string(stage)).Inc()
			e.logger.ErrorWithErr(s.RunID, string(stage), "stage failed", err, nil)
			send(state.Update{
				Type:  state.UpdateNodeError,
				Stage: stage,
				State: s.Clone(),
				Error: serr.Error(),
				Err:   serr,
			})
			return
		}

		promStageDuration.WithLabelValues(string(stage)).Observe(float64(elapsed.Milliseconds()))
		e.logger.InfoWithDuration(s.RunID, string(stage), "stage complete", elapsed, nil)

		d := delta
		if !send(state.Update{Type: state.UpdateNodeComplete, Stage: stage, State: s.Clone(), Delta: &d}) {
			return
		}

		next, ok := nextStage(stage, s)
		if !ok {
			break
		}
		stage = next
	}

	e.logger.InfoWithDuration(s.RunID, "", "run complete", e.now().Sub(s.StartTime), map[string]interface{}{
		"rounds":  s.Round,
		"experts": len(s.ExpertResults),
	})
	send(state.Update{Type: state.UpdateComplete, State: s.Clone()})
}

// pipeline carries the per-run collaborators the stages share.
type pipeline struct {
	cfg         config.Config
	gateway     *llm.Gateway
	newSearcher SearcherFactory
	logger      *logger.Logger
	now         func() time.Time
	runID       string

	mu       sync.Mutex
	provider llm.Provider
}

func (rt *pipeline) stages() map[state.Stage]Stage {
	return map[state.Stage]Stage{
		state.StagePlanner:      &plannerStage{rt: rt},
		state.StageFileAnalysis: &fileAnalysisStage{rt: rt},
		state.StageSearch:       &searchStage{rt: rt},
		state.StageExperts:      &expertsStage{rt: rt},
		state.StageCritic:       &criticStage{rt: rt},
		state.StageReviewer:     &reviewerStage{rt: rt},
		state.StageSynthesizer:  &synthesizerStage{rt: rt},
	}
}

// model resolves the run's provider once. Later calls reuse the handle even
// if the gateway is invalidated meanwhile.
func (rt *pipeline) model(ctx context.Context) (llm.Provider, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.provider != nil {
		return rt.provider, nil
	}
	p, err := rt.gateway.Resolve(ctx, providerConfig(rt.cfg.LLM))
	if err != nil {
		return nil, err
	}
	rt.provider = p
	return p, nil
}

// complete sends one chat completion and returns the text.
func (rt *pipeline) complete(ctx context.Context, stage state.Stage, temperature float64, messages ...llm.Message) (string, error) {
	p, err := rt.model(ctx)
	if err != nil {
		return "", err
	}

	started := time.Now()
	resp, err := p.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   rt.cfg.System.MaxTokens,
	})
	if err != nil {
		promLLMCalls.WithLabelValues(string(p.Type()), "error").Inc()
		return "", err
	}
	promLLMCalls.WithLabelValues(string(p.Type()), "success").Inc()
	rt.logger.Debug(rt.runID, string(stage), "llm call complete", map[string]interface{}{
		"provider":      p.Name(),
		"model":         resp.Model,
		"duration_ms":   time.Since(started).Milliseconds(),
		"total_tokens":  resp.Usage.TotalTokens,
		"finish_reason": resp.FinishReason,
	})
	return resp.Content, nil
}

// providerConfig maps the LLM section onto a gateway request. The OpenAI
// default base URL is not forwarded to other provider types.
func providerConfig(c config.LLMConfig) llm.ProviderConfig {
	endpoint := c.BaseURL
	pt := llm.ProviderType(c.Provider)
	if pt != llm.ProviderTypeOpenAI && endpoint == llm.OpenAIDefaultEndpoint {
		endpoint = ""
	}
	return llm.ProviderConfig{
		Name:            c.Provider,
		Type:            pt,
		APIKey:          c.APIKey,
		APIKeySecretARN: c.APIKeySecretARN,
		Endpoint:        endpoint,
		Model:           c.Model,
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		TimeoutSeconds:  c.TimeoutSeconds,
	}
}

func system(content string) llm.Message {
	return llm.Message{Role: llm.RoleSystem, Content: content}
}

func user(content string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: content}
}

// ProviderHealth resolves the currently configured provider and checks it.
func (e *Engine) ProviderHealth(ctx context.Context) (*llm.HealthCheckResult, error) {
	p, err := e.gateway.Resolve(ctx, providerConfig(e.source.Current().LLM))
	if err != nil {
		return nil, err
	}
	return p.HealthCheck(ctx)
}
