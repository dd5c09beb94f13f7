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
	"strings"

	"deepthink/orchestrator/extract"
	"deepthink/orchestrator/state"
)

// synthesizerStage writes the final answer. It is the only stage that sets
// FinalOutput.
type synthesizerStage struct {
	rt *pipeline
}

func (y *synthesizerStage) Execute(ctx context.Context, s *state.AgentState, _ Emitter) (state.Delta, error) {
	stage := string(state.StageSynthesizer)

	if s.InsufficientFile {
		y.rt.logger.Warn(y.rt.runID, stage, "file has no readable text, skipping model calls", nil)
		end := y.rt.now()
		return state.Delta{FinalOutput: state.Ptr(insufficientFileAnswer), EndTime: &end}, nil
	}

	content, err := y.rt.complete(ctx, state.StageSynthesizer, 0.7,
		system(synthesisSystemPrompt),
		user(buildSynthesisPrompt(s)),
	)
	if err != nil {
		return state.Delta{}, err
	}

	thoughts, answer := stripThoughts(content)

	var structured map[string]any
	raw, err := y.rt.complete(ctx, state.StageSynthesizer, 0.5,
		system(structuredSystemPrompt),
		user(buildStructuredPrompt(answer)),
	)
	if err == nil {
		structured, err = extract.Object(raw)
	}
	if err != nil {
		y.rt.logger.Warn(y.rt.runID, stage, "structured output unavailable", map[string]interface{}{"error": err.Error()})
		structured = nil
	}

	end := y.rt.now()
	return state.Delta{
		FinalOutput:       state.Ptr(answer),
		SynthesisThoughts: state.Ptr(thoughts),
		StructuredOutput:  structured,
		EndTime:           &end,
	}, nil
}

// stripThoughts removes the first thoughts block from text and returns its
// content separately.
func stripThoughts(text string) (thoughts, rest string) {
	loc := thoughtsRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", strings.TrimSpace(text)
	}
	thoughts = strings.TrimSpace(text[loc[2]:loc[3]])
	rest = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return thoughts, rest
}
