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
	"regexp"
	"strings"

	"github.com/google/uuid"

	"deepthink/orchestrator/fanout"
	"deepthink/orchestrator/state"
)

var (
	thoughtsRe = regexp.MustCompile(`(?s)<thoughts>(.*?)</thoughts>`)
	responseRe = regexp.MustCompile(`(?s)<response>(.*?)</response>`)
)

// expertsStage asks every planned expert in parallel, at most
// ExpertConcurrency at a time. A failed expert becomes an error result.
type expertsStage struct {
	rt *pipeline
}

func (x *expertsStage) Execute(ctx context.Context, s *state.AgentState, emit Emitter) (state.Delta, error) {
	experts := s.ExpertsConfig
	userPrompt := buildExpertUserPrompt(s)

	tasks := make([]fanout.Task[state.ExpertResult], len(experts))
	for i, expert := range experts {
		expert := expert
		tasks[i] = func(ctx context.Context) (state.ExpertResult, error) {
			content, err := x.rt.complete(ctx, state.StageExperts, expert.Temperature,
				system(buildExpertSystemPrompt(expert)),
				user(userPrompt),
			)
			if err != nil {
				return state.ExpertResult{}, err
			}
			thoughts, answer := parseExpertResponse(content)
			return state.ExpertResult{
				ID:       "expert-" + uuid.NewString(),
				Role:     expert.Role,
				Variant:  expert.Variant,
				Thoughts: thoughts,
				Content:  answer,
				Round:    s.Round,
				Status:   state.ExpertCompleted,
			}, nil
		}
	}

	results := make([]state.ExpertResult, 0, len(experts))
	for settled := range fanout.Run(ctx, s.Config.System.ExpertConcurrency, tasks) {
		result := settled.Value
		if settled.Err != nil {
			expert := experts[settled.Index]
			result = state.ExpertResult{
				ID:      "expert-" + uuid.NewString(),
				Role:    expert.Role,
				Variant: expert.Variant,
				Round:   s.Round,
				Status:  state.ExpertError,
				Error:   settled.Err.Error(),
			}
			x.rt.logger.ErrorWithErr(x.rt.runID, string(state.StageExperts), "expert failed", settled.Err,
				map[string]interface{}{"role": expert.Role})
		}
		promExpertResults.WithLabelValues(string(result.Status)).Inc()

		results = append(results, result)
		r := result
		emit(state.Update{Type: state.UpdateExpertComplete, Stage: state.StageExperts, Expert: &r})
	}

	return state.Delta{ExpertResults: results}, nil
}

// parseExpertResponse splits model text into its thoughts and response
// segments. Without a response segment the whole text is the answer.
func parseExpertResponse(text string) (thoughts, answer string) {
	if m := thoughtsRe.FindStringSubmatch(text); m != nil {
		thoughts = strings.TrimSpace(m[1])
	}
	if m := responseRe.FindStringSubmatch(text); m != nil {
		return thoughts, strings.TrimSpace(m[1])
	}
	return thoughts, text
}
