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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepthink/orchestrator/extract"
	"deepthink/orchestrator/llm"
	"deepthink/orchestrator/state"
	"deepthink/shared/config"
)

func TestEngine_StreamEmitsOrderedUpdates(t *testing.T) {
	env := newTestEnv(t, nil)

	updates := collect(t, env.engine.Stream(context.Background(), "How should I index a time-series table?", state.Options{}))

	assert.Equal(t, []state.Stage{
		state.StagePlanner,
		state.StageSearch,
		state.StageExperts,
		state.StageCritic,
		state.StageReviewer,
		state.StageSynthesizer,
	}, stageSequence(updates))
	assert.Len(t, updates, 16)
	assert.Equal(t, 3, countType(updates, state.UpdateExpertComplete))
	assert.Equal(t, 0, countType(updates, state.UpdateNodeError))

	// Every node_start is followed, after any expert updates, by its node_complete.
	var open state.Stage
	for _, u := range updates {
		switch u.Type {
		case state.UpdateNodeStart:
			assert.Empty(t, open, "stage %s started before %s completed", u.Stage, open)
			open = u.Stage
		case state.UpdateExpertComplete:
			assert.Equal(t, state.StageExperts, open)
			require.NotNil(t, u.Expert)
		case state.UpdateNodeComplete:
			assert.Equal(t, open, u.Stage)
			require.NotNil(t, u.State)
			require.NotNil(t, u.Delta)
			open = ""
		}
		assert.False(t, u.Timestamp.IsZero())
	}

	last := updates[len(updates)-1]
	require.Equal(t, state.UpdateComplete, last.Type)
	final := last.State
	require.NotNil(t, final)

	assert.Equal(t, "Final answer.", final.FinalOutput)
	assert.Equal(t, "weighing experts", final.SynthesisThoughts)
	assert.Equal(t, "short", final.StructuredOutput["summary"])
	assert.Equal(t, 1, final.Round)
	assert.Equal(t, "simple", final.Complexity)
	assert.Len(t, final.ExpertsConfig, 3)
	assert.Len(t, final.ExpertResults, 3)
	assert.Len(t, final.CriticFeedback, 1)
	require.NotNil(t, final.ReviewScore)
	assert.InDelta(t, 0.85, final.ReviewScore.Overall, 1e-9)
	require.NotNil(t, final.EndTime)
	assert.Empty(t, final.Context)
}

func TestEngine_ToleratesMistypedFields(t *testing.T) {
	tests := []struct {
		name        string
		planner     string
		wantExperts int
		wantTemp    float64
	}{
		{"string temperature", `{"complexity":"simple","experts":[{"role":"Historian","temperature":"0.9"}]}`, 3, 0.7},
		{"numeric role", `{"complexity":"simple","experts":[{"role":42},{"role":"Economist","temperature":0.2}]}`, 3, 0.2},
		{"experts not a list", `{"complexity":"simple","experts":"none"}`, 3, 0.7},
		{"complexity not a string", `{"complexity":3,"experts":[]}`, 4, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.provider.set("planner", reply(tt.planner))
			env.provider.set("critic", reply(`{"suggestions":[{"text":"cite sources"}],"weak_points":"thin"}`))
			env.provider.set("reviewer", reply(`{"completeness":"0.9","consistency":0.9,"confidence":0.9,"satisfied":"true"}`))

			final, err := env.engine.Invoke(context.Background(), "q", state.Options{})
			require.NoError(t, err)
			require.Len(t, final.ExpertsConfig, tt.wantExperts)
			assert.Equal(t, tt.wantTemp, final.ExpertsConfig[0].Temperature)
			assert.NotEmpty(t, final.FinalOutput)
			assert.NotEmpty(t, final.CriticFeedback)
			require.NotNil(t, final.ReviewScore)
			assert.InDelta(t, 0.9, final.ReviewScore.Completeness, 1e-9)
		})
	}
}

func TestEngine_SnapshotsAreIndependent(t *testing.T) {
	env := newTestEnv(t, nil)

	updates := collect(t, env.engine.Stream(context.Background(), "q", state.Options{}))
	first := updates[0]
	require.Equal(t, state.UpdateNodeStart, first.Type)
	assert.Empty(t, first.State.ExpertsConfig)
	assert.Empty(t, first.State.FinalOutput)
}

func TestEngine_Invoke(t *testing.T) {
	env := newTestEnv(t, nil)

	final, err := env.engine.Invoke(context.Background(), "Explain consensus", state.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Final answer.", final.FinalOutput)
	assert.NotEmpty(t, final.RunID)

	roles := map[string]bool{}
	for _, r := range final.ExpertResults {
		assert.Equal(t, state.ExpertCompleted, r.Status)
		assert.Equal(t, "answer from "+r.Role, r.Content)
		assert.Equal(t, "thinking as "+r.Role, r.Thoughts)
		assert.Equal(t, 1, r.Round)
		roles[r.Role] = true
	}
	assert.True(t, roles["Database Engineer"])
	assert.True(t, roles["Problem Analyst"])
	assert.True(t, roles["Technical Summarizer"])
}

func TestEngine_FatalStageEmitsNodeErrorOnly(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		fn    func(llm.CompletionRequest) (string, error)
		stage state.Stage
		parse bool
	}{
		{"planner upstream failure", "planner", fail("rate limited"), state.StagePlanner, false},
		{"critic parse failure", "critic", reply("no json here"), state.StageCritic, true},
		{"reviewer parse failure", "reviewer", reply("score: high"), state.StageReviewer, true},
		{"synthesis failure", "synthesis", fail("timeout"), state.StageSynthesizer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.provider.set(tt.kind, tt.fn)

			updates := collect(t, env.engine.Stream(context.Background(), "q", state.Options{}))
			require.NotEmpty(t, updates)

			last := updates[len(updates)-1]
			assert.Equal(t, state.UpdateNodeError, last.Type)
			assert.Equal(t, tt.stage, last.Stage)
			assert.NotEmpty(t, last.Error)
			assert.Equal(t, 0, countType(updates, state.UpdateComplete))
			assert.Equal(t, 1, countType(updates, state.UpdateNodeError))

			_, err := env.engine.Invoke(context.Background(), "q", state.Options{})
			require.Error(t, err)
			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.stage, stageErr.Stage)

			var parseErr *extract.ParseError
			assert.Equal(t, tt.parse, errors.As(err, &parseErr))
		})
	}
}

func TestEngine_ExpertFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.set("expert", func(req llm.CompletionRequest) (string, error) {
		if roleOf(req) == "Problem Analyst" {
			return "", errors.New("upstream 500")
		}
		return "<response>fine</response>", nil
	})

	final, err := env.engine.Invoke(context.Background(), "q", state.Options{})
	require.NoError(t, err)
	require.Len(t, final.ExpertResults, 3)

	var failed []state.ExpertResult
	for _, r := range final.ExpertResults {
		if r.Status == state.ExpertError {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "Problem Analyst", failed[0].Role)
	assert.Contains(t, failed[0].Error, "upstream 500")
	assert.Equal(t, "Final answer.", final.FinalOutput)
}

func TestEngine_ExpertConcurrencyIsBounded(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.System.ExpertConcurrency = 2 })
	env.provider.expertDelay = 30 * time.Millisecond
	env.provider.set("planner", reply(`{"complexity":"complex","experts":[]}`))

	updates := collect(t, env.engine.Stream(context.Background(), "q", state.Options{}))

	assert.Equal(t, 5, countType(updates, state.UpdateExpertComplete))
	assert.Equal(t, 5, env.provider.count("expert"))
	env.provider.mu.Lock()
	defer env.provider.mu.Unlock()
	assert.LessOrEqual(t, env.provider.maxInFlight, 2)
	assert.Equal(t, 2, env.provider.maxInFlight)
}

func TestEngine_UnsatisfiedReviewIsBypassedByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.set("reviewer", reply(`{"completeness":0.2,"consistency":0.3,"confidence":0.1,"overall":0.2,"satisfied":false}`))

	final, err := env.engine.Invoke(context.Background(), "q", state.Options{MaxRounds: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, env.provider.count("planner"))
	assert.Equal(t, 1, final.Round)
	assert.Equal(t, 3, final.MaxRounds)
	require.NotNil(t, final.ReviewScore)
	assert.False(t, final.ReviewScore.Satisfied)
	assert.Equal(t, "Final answer.", final.FinalOutput)
}

func TestEngine_EnforcedReviewLoopsUntilMaxRounds(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.System.EnforceReview = true })
	env.provider.set("reviewer", reply(`{"completeness":0.2,"consistency":0.3,"confidence":0.1,"overall":0.2,"satisfied":false}`))

	updates := collect(t, env.engine.Stream(context.Background(), "q", state.Options{MaxRounds: 2}))

	assert.Equal(t, []state.Stage{
		state.StagePlanner, state.StageSearch, state.StageExperts, state.StageCritic, state.StageReviewer,
		state.StagePlanner, state.StageSearch, state.StageExperts, state.StageCritic, state.StageReviewer,
		state.StageSynthesizer,
	}, stageSequence(updates))

	final := updates[len(updates)-1].State
	require.NotNil(t, final)
	assert.Equal(t, 2, final.Round)
	assert.Len(t, final.CriticFeedback, 2)
	assert.Len(t, final.ExpertResults, 3, "results are replaced each round")
	for _, r := range final.ExpertResults {
		assert.Equal(t, 2, r.Round)
	}
}

func TestEngine_EnforcedReviewStopsWhenSatisfied(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.System.EnforceReview = true })

	final, err := env.engine.Invoke(context.Background(), "q", state.Options{MaxRounds: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, final.Round)
	assert.Equal(t, 1, env.provider.count("planner"))
}

func TestEngine_FileGuardSkipsModelCalls(t *testing.T) {
	env := newTestEnv(t, nil)

	updates := collect(t, env.engine.Stream(context.Background(), "Summarize this file for me", state.Options{
		FileContext: "### File: scan.pdf\n\n---\n",
	}))

	assert.Equal(t, []state.Stage{state.StageSynthesizer}, stageSequence(updates))
	assert.Equal(t, 0, env.provider.total())

	last := updates[len(updates)-1]
	require.Equal(t, state.UpdateComplete, last.Type)
	assert.Equal(t, insufficientFileAnswer, last.State.FinalOutput)
	assert.True(t, last.State.InsufficientFile)
	assert.Equal(t, 0, last.State.Round)
}

func TestEngine_FileGuardNeedsFileQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	final, err := env.engine.Invoke(context.Background(), "What is a B-tree?", state.Options{FileContext: "---"})
	require.NoError(t, err)
	assert.False(t, final.InsufficientFile)
	assert.Equal(t, 1, env.provider.count("planner"))
}

func TestEngine_FileAnalysis(t *testing.T) {
	fileText := "### File: report.txt\nRevenue grew 12% quarter over quarter, driven by the APAC region.\n---"

	t.Run("summary added to context", func(t *testing.T) {
		env := newTestEnv(t, nil)

		updates := collect(t, env.engine.Stream(context.Background(), "What does the report say?", state.Options{FileContext: fileText}))
		assert.Equal(t, []state.Stage{
			state.StagePlanner, state.StageFileAnalysis, state.StageSearch,
			state.StageExperts, state.StageCritic, state.StageReviewer, state.StageSynthesizer,
		}, stageSequence(updates))

		final := updates[len(updates)-1].State
		assert.Equal(t, "## File Analysis Summary:\n\nThe file describes a quarterly report.", final.Context)
		assert.Equal(t, "Revenue grew 12% quarter over quarter, driven by the APAC region.", final.FileText)
	})

	t.Run("summary failure falls back to raw text", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.provider.set("summary", fail("context length exceeded"))

		final, err := env.engine.Invoke(context.Background(), "What does the report say?", state.Options{FileContext: fileText})
		require.NoError(t, err)
		assert.Equal(t, "## File Content:\n\nRevenue grew 12% quarter over quarter, driven by the APAC region.", final.Context)
	})

	t.Run("attachments count as file text", func(t *testing.T) {
		env := newTestEnv(t, nil)

		final, err := env.engine.Invoke(context.Background(), "Review the attachment", state.Options{
			Attachments: []state.Attachment{{Name: "notes.md", Text: "The migration finished without data loss on Tuesday."}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, env.provider.count("summary"))
		assert.Contains(t, final.Context, "## File Analysis Summary:")
	})
}

func TestEngine_SearchGating(t *testing.T) {
	fileText := "Revenue grew 12% quarter over quarter, driven by the APAC region."
	enable := func(c *config.Config) {
		c.Search.Enabled = true
		c.Search.Provider = config.SearchProviderExa
		c.Search.ExaAPIKey = "exa-key"
	}

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		query    string
		file     string
		searched bool
	}{
		{"no file searches", enable, "How do LSM trees work?", "", true},
		{"file without keyword skips", enable, "Explain this report", fileText, false},
		{"file with keyword searches", enable, "Compare this report with the latest news", fileText, true},
		{"file with CJK keyword searches", enable, "结合最新资料分析这份报告", fileText, true},
		{"disabled never searches", nil, "latest news", "", false},
		{"provider none never searches", func(c *config.Config) { c.Search.Enabled = true }, "latest news", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.mutate)

			final, err := env.engine.Invoke(context.Background(), tt.query, state.Options{FileContext: tt.file})
			require.NoError(t, err)

			if tt.searched {
				assert.Equal(t, 1, env.searcher.calls())
				assert.Contains(t, final.Context, "## Web Search Results:\n\n1. **Release notes**\n   URL: https://example.com/notes\n   Version 2 shipped.")
				assert.Len(t, final.SearchResults, 1)
			} else {
				assert.Equal(t, 0, env.searcher.calls())
				assert.NotContains(t, final.Context, "Web Search Results")
			}
		})
	}
}

func TestEngine_SearchFailureIsSilent(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Search.Enabled = true
		c.Search.Provider = config.SearchProviderTavily
	})
	env.searcher.err = errors.New("connection refused")

	final, err := env.engine.Invoke(context.Background(), "latest kernel release", state.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, env.searcher.calls())
	assert.Empty(t, final.Context)
	assert.Empty(t, final.SearchResults)
}

func TestEngine_StructuredOutputFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.set("structured", reply("sorry, no json"))

	final, err := env.engine.Invoke(context.Background(), "q", state.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Final answer.", final.FinalOutput)
	assert.Nil(t, final.StructuredOutput)
}

func TestEngine_ProviderResolutionFailure(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.LLM.Provider = "unregistered" })

	updates := collect(t, env.engine.Stream(context.Background(), "q", state.Options{}))
	last := updates[len(updates)-1]
	assert.Equal(t, state.UpdateNodeError, last.Type)
	assert.Equal(t, state.StagePlanner, last.Stage)

	var gwErr *llm.GatewayError
	assert.True(t, errors.As(last.Err, &gwErr))
}

func TestEngine_CancelStopsRun(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.expertDelay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := env.engine.Stream(ctx, "q", state.Options{})

	for u := range ch {
		if u.Type == state.UpdateNodeStart && u.Stage == state.StageExperts {
			cancel()
			break
		}
	}

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
	assert.Equal(t, 0, env.provider.count("critic"))

	_, err := env.engine.Invoke(ctx, "q", state.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ConfigCapturedAtStart(t *testing.T) {
	env := newTestEnv(t, nil)

	first, err := env.engine.Invoke(context.Background(), "q", state.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Config.System.MaxRounds)

	cfg := env.store.Current()
	cfg.System.MaxRounds = 4
	require.NoError(t, env.store.Replace(cfg))

	second, err := env.engine.Invoke(context.Background(), "q", state.Options{Model: "other-model"})
	require.NoError(t, err)
	assert.Equal(t, 4, second.MaxRounds)
	assert.Equal(t, "other-model", second.Config.LLM.Model)
	assert.Equal(t, 1, first.Config.System.MaxRounds)
}

func TestProviderConfig(t *testing.T) {
	cfg := config.Default().LLM
	cfg.APIKey = "sk"

	pc := providerConfig(cfg)
	assert.Equal(t, llm.ProviderTypeOpenAI, pc.Type)
	assert.Equal(t, llm.OpenAIDefaultEndpoint, pc.Endpoint)

	cfg.Provider = "anthropic"
	pc = providerConfig(cfg)
	assert.Equal(t, llm.ProviderTypeAnthropic, pc.Type)
	assert.Empty(t, pc.Endpoint)

	cfg.BaseURL = "https://proxy.internal"
	assert.Equal(t, "https://proxy.internal", providerConfig(cfg).Endpoint)
}

func TestEngine_ProviderHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.engine.ProviderHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, llm.HealthStatusHealthy, result.Status)
}
