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

	"deepthink/orchestrator/extract"
	"deepthink/orchestrator/state"
)

type reviewResponse struct {
	Completeness float64
	Consistency  float64
	Confidence   float64
	Overall      *float64
	Satisfied    *bool
	Reasoning    string
}

// reviewFrom reads the reviewer reply. Unreadable scores count as 0 and an
// unreadable overall or verdict as missing.
func reviewFrom(obj map[string]any) reviewResponse {
	resp := reviewResponse{Reasoning: textField(obj, "reasoning")}
	resp.Completeness, _ = scoreField(obj, "completeness")
	resp.Consistency, _ = scoreField(obj, "consistency")
	resp.Confidence, _ = scoreField(obj, "confidence")
	if v, ok := scoreField(obj, "overall"); ok {
		resp.Overall = &v
	}
	if v, ok := boolField(obj, "satisfied"); ok {
		resp.Satisfied = &v
	}
	return resp
}

// reviewerStage scores the round. Whether the score can send the run back
// to the planner is decided by the transition function.
type reviewerStage struct {
	rt *pipeline
}

func (r *reviewerStage) Execute(ctx context.Context, s *state.AgentState, _ Emitter) (state.Delta, error) {
	content, err := r.rt.complete(ctx, state.StageReviewer, 0.5,
		system(reviewerSystemPrompt),
		user(buildReviewerPrompt(s)),
	)
	if err != nil {
		return state.Delta{}, err
	}

	obj, err := extract.Object(content)
	if err != nil {
		return state.Delta{}, err
	}

	score := scoreReview(reviewFrom(obj), s.Config.System.QualityThreshold)
	r.rt.logger.Info(r.rt.runID, string(state.StageReviewer), "round reviewed", map[string]interface{}{
		"overall":   score.Overall,
		"satisfied": score.Satisfied,
		"round":     s.Round,
		"enforced":  s.Config.System.EnforceReview,
	})
	return state.Delta{ReviewScore: &score}, nil
}

// scoreReview clamps the dimensions into [0,1]. A missing overall is the
// mean of the other three; a missing verdict compares overall to threshold.
func scoreReview(resp reviewResponse, threshold float64) state.ReviewScore {
	score := state.ReviewScore{
		Completeness: clamp01(resp.Completeness),
		Consistency:  clamp01(resp.Consistency),
		Confidence:   clamp01(resp.Confidence),
		Comments:     resp.Reasoning,
	}
	if resp.Overall != nil {
		score.Overall = clamp01(*resp.Overall)
	} else {
		score.Overall = (score.Completeness + score.Consistency + score.Confidence) / 3
	}
	if resp.Satisfied != nil {
		score.Satisfied = *resp.Satisfied
	} else {
		score.Satisfied = score.Overall >= threshold
	}
	return score
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
