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
	"encoding/json"
	"fmt"

	"deepthink/orchestrator/extract"
	"deepthink/orchestrator/state"
)

// criticStage reviews the round's expert answers. Its feedback is appended
// to the history as serialized JSON.
type criticStage struct {
	rt *pipeline
}

func (c *criticStage) Execute(ctx context.Context, s *state.AgentState, _ Emitter) (state.Delta, error) {
	content, err := c.rt.complete(ctx, state.StageCritic, 0.6,
		system(criticSystemPrompt),
		user(buildCriticPrompt(s)),
	)
	if err != nil {
		return state.Delta{}, err
	}

	obj, err := extract.Object(content)
	if err != nil {
		return state.Delta{}, err
	}
	fb := feedbackFrom(obj)

	data, err := json.Marshal(fb)
	if err != nil {
		return state.Delta{}, fmt.Errorf("failed to serialize critic feedback: %w", err)
	}

	history := make([]string, 0, len(s.CriticFeedback)+1)
	history = append(history, s.CriticFeedback...)
	history = append(history, string(data))

	c.rt.logger.Info(c.rt.runID, string(state.StageCritic), "critique recorded", map[string]interface{}{
		"contradictions": len(fb.Contradictions),
		"weak_points":    len(fb.WeakPoints),
	})
	return state.Delta{CriticFeedback: history}, nil
}

// feedbackFrom reads the critic reply. Every list is non-nil.
func feedbackFrom(obj map[string]any) state.CriticFeedback {
	return state.CriticFeedback{
		Contradictions:      listField(obj, "contradictions"),
		MissingPerspectives: listField(obj, "missing_perspectives"),
		WeakPoints:          listField(obj, "weak_points"),
		Suggestions:         listField(obj, "suggestions"),
	}
}
