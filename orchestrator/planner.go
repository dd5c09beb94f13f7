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

// Complexity labels returned by the planner.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

const defaultExpertTemperature = 0.7

// defaultExperts tops up a plan that names too few experts, in this order.
var defaultExperts = []state.ExpertConfig{
	{Role: "Problem Analyst", Description: "Breaks down the problem boundaries and key constraints."},
	{Role: "Technical Summarizer", Description: "Extracts the key information and structures it clearly."},
	{Role: "Risk Reviewer", Description: "Identifies risks, blind spots and uncertainty."},
	{Role: "Implementation Advisor", Description: "Proposes an actionable plan and a way to verify it."},
	{Role: "Domain Specialist", Description: "Provides professional judgment for the domain."},
	{Role: "Quality Checker", Description: "Checks conclusions for consistency and sufficient evidence."},
	{Role: "Decision Synthesizer", Description: "Integrates the opinions into a final conclusion."},
}

type plan struct {
	Analysis   string
	Complexity string
	Experts    []candidateExpert
}

type candidateExpert struct {
	Role        string
	Description string
	Temperature *float64
	Variant     string
}

// planFrom reads the planner reply field by field. Experts without a string
// role are skipped and a non-array experts value yields none.
func planFrom(obj map[string]any) plan {
	pl := plan{Analysis: textField(obj, "analysis")}
	pl.Complexity, _ = stringField(obj, "complexity")

	raw, _ := obj["experts"].([]any)
	for _, item := range raw {
		e, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, ok := stringField(e, "role")
		if !ok {
			continue
		}
		c := candidateExpert{Role: role, Description: textField(e, "description")}
		if t, ok := numberField(e, "temperature"); ok {
			c.Temperature = &t
		}
		c.Variant, _ = stringField(e, "variant")
		pl.Experts = append(pl.Experts, c)
	}
	return pl
}

// plannerStage asks the model which experts the query needs.
type plannerStage struct {
	rt *pipeline
}

func (p *plannerStage) Execute(ctx context.Context, s *state.AgentState, _ Emitter) (state.Delta, error) {
	content, err := p.rt.complete(ctx, state.StagePlanner, 0.7,
		system(plannerSystemPrompt),
		user(buildPlannerPrompt(s)),
	)
	if err != nil {
		return state.Delta{}, err
	}

	obj, err := extract.Object(content)
	if err != nil {
		return state.Delta{}, err
	}
	pl := planFrom(obj)

	complexity := normalizeComplexity(pl.Complexity)
	experts := normalizeExperts(pl.Experts, complexity)

	p.rt.logger.Info(p.rt.runID, string(state.StagePlanner), "plan ready", map[string]interface{}{
		"complexity": complexity,
		"proposed":   len(pl.Experts),
		"experts":    len(experts),
		"round":      s.Round + 1,
	})

	return state.Delta{
		Complexity:    state.Ptr(complexity),
		PlanAnalysis:  state.Ptr(strings.TrimSpace(pl.Analysis)),
		ExpertsConfig: experts,
		Round:         state.Ptr(s.Round + 1),
	}, nil
}

func normalizeComplexity(raw string) string {
	switch c := strings.ToLower(strings.TrimSpace(raw)); c {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return c
	default:
		return ComplexityMedium
	}
}

// expertBounds returns the allowed expert count for a complexity label.
func expertBounds(complexity string) (lo, hi int) {
	switch normalizeComplexity(complexity) {
	case ComplexitySimple:
		return 3, 4
	case ComplexityComplex:
		return 5, 7
	default:
		return 4, 5
	}
}

// normalizeExperts cleans the proposed experts and fits their count into
// the bounds for complexity, topping up from defaultExperts.
func normalizeExperts(candidates []candidateExpert, complexity string) []state.ExpertConfig {
	lo, hi := expertBounds(complexity)

	out := make([]state.ExpertConfig, 0, hi)
	seen := make(map[string]bool, hi)
	for _, c := range candidates {
		if len(out) == hi {
			break
		}
		role := strings.TrimSpace(c.Role)
		if role == "" {
			continue
		}
		temperature := defaultExpertTemperature
		if c.Temperature != nil {
			temperature = *c.Temperature
		}
		variant := state.VariantCreative
		if c.Variant == state.VariantConservative {
			variant = state.VariantConservative
		}
		out = append(out, state.ExpertConfig{
			Role:        role,
			Description: strings.TrimSpace(c.Description),
			Temperature: temperature,
			Variant:     variant,
		})
		seen[strings.ToLower(role)] = true
	}

	for _, d := range defaultExperts {
		if len(out) >= lo {
			break
		}
		if seen[strings.ToLower(d.Role)] {
			continue
		}
		d.Temperature = defaultExpertTemperature
		d.Variant = state.VariantCreative
		out = append(out, d)
		seen[strings.ToLower(d.Role)] = true
	}
	return out
}
