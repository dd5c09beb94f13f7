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
	"fmt"
	"strings"

	"deepthink/orchestrator/state"
)

const (
	plannerSystemPrompt    = "You are a strategic planning AI. Respond only with valid JSON."
	criticSystemPrompt     = "You are a critical analyst. Respond only with valid JSON."
	reviewerSystemPrompt   = "You are a quality reviewer. Respond only with valid JSON."
	synthesisSystemPrompt  = "You are a synthesis expert."
	structuredSystemPrompt = "Respond only with valid JSON."

	noContext  = "No additional context."
	noCritique = "None"

	insufficientFileAnswer = "I received the file, but it contains too little readable text to support a reliable answer. " +
		"Please upload a file with readable text, or paste its content directly, and ask again."
)

// Build the planner prompt
func buildPlannerPrompt(s *state.AgentState) string {
	hint := ""
	if s.FileText != "" {
		hint = "The user uploaded a file. Excerpt: " + fileHint(s.FileText) + "..."
	}
	ctx := s.Context
	if ctx == "" {
		ctx = noContext
	}
	critique := noCritique
	if len(s.CriticFeedback) > 0 {
		critique = strings.Join(s.CriticFeedback, "\n")
	}

	return fmt.Sprintf(`Analyze the user's question and decide which experts are needed to answer it.

Question: %s

%s

Context: %s
Previous critique: %s

Pick between 3 and 7 of the most relevant expert roles based on complexity:
- simple question: 3-4 experts
- medium question: 4-5 experts
- complex question: 5-7 experts

Respond ONLY with valid JSON:
{
  "analysis": "your analysis of the question",
  "complexity": "simple|medium|complex",
  "experts": [
    {"role": "expert role", "description": "what this expert covers", "temperature": 0.7, "variant": "creative|conservative"}
  ]
}`, s.Query.Text, hint, ctx, critique)
}

func buildFileSummaryPrompt(fileText string) string {
	return fmt.Sprintf(`Summarize and analyze the following file content. Extract the key information, data points and core content so that experts can analyze it further.

File content:
%s

Produce a structured summary with:
1. Overview (file type, main content)
2. Key information and data points
3. Important details to watch`, fileText)
}

func buildExpertSystemPrompt(expert state.ExpertConfig) string {
	return fmt.Sprintf(`You are a %s. %s

Format your analysis as:
<thoughts>your internal reasoning</thoughts>
<response>your expert opinion and analysis</response>

Be thorough and specific.`, expert.Role, expert.Description)
}

func buildExpertUserPrompt(s *state.AgentState) string {
	ctx := s.Context
	if ctx == "" {
		ctx = noContext
	}
	return fmt.Sprintf(`Context:
%s

Question: %s

Constraints:
- If the context contains a file summary or file content, base your answer on that evidence first.
- Do not invent facts that are not in the file.
- If the evidence is insufficient, say that it cannot be confirmed from the current file content.

Provide your expert analysis.`, ctx, s.Query.Text)
}

func buildCriticPrompt(s *state.AgentState) string {
	return fmt.Sprintf(`You are a critical analyst. Review the expert opinions and identify:
1. Contradictions or inconsistencies
2. Missing perspectives
3. Weak arguments
4. Areas that need improvement

Query: %s
Context: %s

Expert opinions:
%s

Respond with constructive criticism as JSON:
{
  "contradictions": ["..."],
  "missing_perspectives": ["..."],
  "weak_points": ["..."],
  "suggestions": ["..."]
}`, s.Query.Text, s.Context, formatExperts(s.ExpertResults, false))
}

func buildReviewerPrompt(s *state.AgentState) string {
	critique := "No criticism yet"
	if len(s.CriticFeedback) > 0 {
		critique = strings.Join(s.CriticFeedback, "\n\n")
	}
	return fmt.Sprintf(`You are a quality reviewer. Evaluate the overall quality of the analysis.

Query: %s
Current round: %d
Max rounds: %d

Expert opinions:
%s

Critic feedback:
%s

Score each dimension from 0 to 1:
- completeness: does it fully answer the query?
- consistency: are the opinions coherent?
- confidence: how trustworthy are the conclusions?

Respond with JSON:
{
  "completeness": 0.0,
  "consistency": 0.0,
  "confidence": 0.0,
  "overall": 0.0,
  "satisfied": true,
  "reasoning": "why these scores"
}`, s.Query.Text, s.Round, s.MaxRounds, formatExperts(s.ExpertResults, false), critique)
}

func buildSynthesisPrompt(s *state.AgentState) string {
	return fmt.Sprintf(`You are a synthesis expert. Merge all expert opinions into one complete, well structured answer.

Query: %s
Context: %s

Expert opinions:
%s

Put your internal reasoning in <thoughts></thoughts>, then give the final answer, which must:
1. Answer the query directly
2. Integrate every expert's insight
3. Resolve any contradictions
4. Offer actionable conclusions`, s.Query.Text, s.Context, formatExperts(s.ExpertResults, true))
}

func buildStructuredPrompt(synthesis string) string {
	return fmt.Sprintf(`Based on your synthesis, also provide a structured view as JSON:
{
  "summary": "2-3 sentence summary",
  "key_points": ["point 1", "point 2"],
  "detailed_analysis": "detailed analysis",
  "expert_citations": [{"expert": "expert role", "contribution": "what they contributed"}],
  "confidence_level": "high|medium|low",
  "caveats": ["important limitations"]
}

Based on this synthesis:
%s`, synthesis)
}

// formatExperts renders completed expert results for downstream prompts.
func formatExperts(results []state.ExpertResult, withThoughts bool) string {
	var b strings.Builder
	for _, r := range results {
		if r.Status != state.ExpertCompleted {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s - %s]\n", r.Role, r.Variant)
		if withThoughts && r.Thoughts != "" {
			fmt.Fprintf(&b, "Thoughts: %s\nAnalysis: %s", r.Thoughts, r.Content)
		} else {
			b.WriteString(r.Content)
		}
	}
	if b.Len() == 0 {
		return "(no expert produced an answer)"
	}
	return b.String()
}
