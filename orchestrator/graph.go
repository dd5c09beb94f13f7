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

import "deepthink/orchestrator/state"

// startStage picks the first node of a run. A file-related query whose
// files carry no readable text goes straight to the synthesizer.
func startStage(s *state.AgentState) state.Stage {
	if s.InsufficientFile {
		return state.StageSynthesizer
	}
	return state.StagePlanner
}

// nextStage is the transition function of the stage graph. ok is false when
// stage is terminal.
func nextStage(stage state.Stage, s *state.AgentState) (next state.Stage, ok bool) {
	switch stage {
	case state.StagePlanner:
		if s.FileText != "" {
			return state.StageFileAnalysis, true
		}
		return state.StageSearch, true
	case state.StageFileAnalysis:
		return state.StageSearch, true
	case state.StageSearch:
		return state.StageExperts, true
	case state.StageExperts:
		return state.StageCritic, true
	case state.StageCritic:
		return state.StageReviewer, true
	case state.StageReviewer:
		if !roundSatisfied(s) && s.Round < s.MaxRounds {
			return state.StagePlanner, true
		}
		return state.StageSynthesizer, true
	default:
		return "", false
	}
}

// roundSatisfied reports whether the reviewer's verdict ends the loop.
// Unless review is enforced every round counts as satisfied.
func roundSatisfied(s *state.AgentState) bool {
	if !s.Config.System.EnforceReview {
		return true
	}
	return s.ReviewScore != nil && s.ReviewScore.Satisfied
}
