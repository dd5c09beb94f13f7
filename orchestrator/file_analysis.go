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

	"deepthink/orchestrator/state"
)

// fileAnalysisStage summarizes meaningful file text into the context. It
// never fails: without a summary the cleaned text itself is injected.
type fileAnalysisStage struct {
	rt *pipeline
}

func (f *fileAnalysisStage) Execute(ctx context.Context, s *state.AgentState, _ Emitter) (state.Delta, error) {
	log := f.rt.logger
	stage := string(state.StageFileAnalysis)

	log.Info(f.rt.runID, stage, "summarizing file content", map[string]interface{}{"runes": len([]rune(s.FileText))})

	summary, err := f.rt.complete(ctx, state.StageFileAnalysis, 0.3, user(buildFileSummaryPrompt(s.FileText)))
	if err != nil || summary == "" {
		log.Warn(f.rt.runID, stage, "file summary unavailable, using raw file text", map[string]interface{}{"error": errString(err)})
		return state.Delta{Context: state.Ptr(appendSection(s.Context, "## File Content:\n\n"+s.FileText))}, nil
	}
	return state.Delta{Context: state.Ptr(appendSection(s.Context, "## File Analysis Summary:\n\n"+summary))}, nil
}

// appendSection extends the context with block, keeping what is already there.
func appendSection(existing, block string) string {
	if existing == "" {
		return block
	}
	return existing + "\n\n" + block
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
