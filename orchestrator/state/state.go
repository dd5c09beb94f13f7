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

// Package state defines the working record threaded through a deep-think
// run and the progress updates emitted while it executes.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"deepthink/orchestrator/search"
	"deepthink/shared/config"
)

// Stage names a node of the pipeline graph.
type Stage string

const (
	StagePlanner      Stage = "planner"
	StageFileAnalysis Stage = "file_analysis"
	StageSearch       Stage = "search"
	StageExperts      Stage = "experts"
	StageCritic       Stage = "critic"
	StageReviewer     Stage = "reviewer"
	StageSynthesizer  Stage = "synthesizer"
)

// Expert variants.
const (
	VariantCreative     = "creative"
	VariantConservative = "conservative"
)

// Attachment is a file the caller already converted to text.
type Attachment struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Query is the immutable run input.
type Query struct {
	Text string `json:"text"`
	// FileContext is raw text extracted from uploaded files, headers included.
	FileContext string       `json:"file_context,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// FileText joins FileContext and attachments into one document, each
// attachment under a "### File: <name>" header.
func (q Query) FileText() string {
	if len(q.Attachments) == 0 {
		return q.FileContext
	}
	var b strings.Builder
	b.WriteString(q.FileContext)
	for _, a := range q.Attachments {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### File: %s\n%s\n---", a.Name, a.Text)
	}
	return b.String()
}

// HasFileContext reports whether any file input was supplied.
func (q Query) HasFileContext() bool {
	return strings.TrimSpace(q.FileText()) != ""
}

// ExpertConfig describes one expert produced by the planner.
type ExpertConfig struct {
	Role        string  `json:"role"`
	Description string  `json:"description"`
	Temperature float64 `json:"temperature"`
	Variant     string  `json:"variant"`
}

// ExpertStatus is the outcome of one expert call.
type ExpertStatus string

const (
	ExpertCompleted ExpertStatus = "completed"
	ExpertError     ExpertStatus = "error"
)

// ExpertResult is created once per expert task and never modified.
type ExpertResult struct {
	ID       string       `json:"id"`
	Role     string       `json:"role"`
	Variant  string       `json:"variant"`
	Thoughts string       `json:"thoughts,omitempty"`
	Content  string       `json:"content"`
	Round    int          `json:"round"`
	Status   ExpertStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// CriticFeedback is the critic's structured review of a round.
type CriticFeedback struct {
	Contradictions      []string `json:"contradictions"`
	MissingPerspectives []string `json:"missing_perspectives"`
	WeakPoints          []string `json:"weak_points"`
	Suggestions         []string `json:"suggestions"`
}

// ReviewScore is the reviewer's verdict for a round. Scores are in [0,1].
type ReviewScore struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Confidence   float64 `json:"confidence"`
	Overall      float64 `json:"overall"`
	Satisfied    bool    `json:"satisfied"`
	Comments     string  `json:"comments,omitempty"`
}

// AgentState is the working record of one run. It is owned by a single run.
type AgentState struct {
	RunID string `json:"run_id"`
	Query Query  `json:"query"`

	// Context accumulates enrichment text. Stages only ever extend it.
	Context string `json:"context"`
	// FileText is the cleaned file text, empty when below the meaningful threshold.
	FileText string `json:"file_text,omitempty"`
	// InsufficientFile is set when a file-related query came with unreadable files.
	InsufficientFile bool `json:"insufficient_file,omitempty"`

	Complexity    string          `json:"complexity,omitempty"`
	PlanAnalysis  string          `json:"plan_analysis,omitempty"`
	ExpertsConfig []ExpertConfig  `json:"experts_config"`
	ExpertResults []ExpertResult  `json:"expert_results"`
	SearchResults []search.Result `json:"search_results,omitempty"`

	CriticFeedback []string     `json:"critic_feedback"`
	ReviewScore    *ReviewScore `json:"review_score,omitempty"`

	Round     int `json:"round"`
	MaxRounds int `json:"max_rounds"`

	FinalOutput       string         `json:"final_output,omitempty"`
	SynthesisThoughts string         `json:"synthesis_thoughts,omitempty"`
	StructuredOutput  map[string]any `json:"structured_output,omitempty"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Config is the effective configuration captured at run start.
	Config config.Config `json:"-"`
}

// Clone returns a copy that shares no slices with s.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	c := *s
	c.Query.Attachments = append([]Attachment(nil), s.Query.Attachments...)
	c.ExpertsConfig = append([]ExpertConfig(nil), s.ExpertsConfig...)
	c.ExpertResults = append([]ExpertResult(nil), s.ExpertResults...)
	c.SearchResults = append([]search.Result(nil), s.SearchResults...)
	c.CriticFeedback = append([]string(nil), s.CriticFeedback...)
	if s.ReviewScore != nil {
		rs := *s.ReviewScore
		c.ReviewScore = &rs
	}
	if s.StructuredOutput != nil {
		c.StructuredOutput = make(map[string]any, len(s.StructuredOutput))
		for k, v := range s.StructuredOutput {
			c.StructuredOutput[k] = v
		}
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	c.Config = s.Config.Clone()
	return &c
}

// Invariant violations reported by Delta.Apply.
var (
	ErrRoundLimit       = errors.New("round counter would exceed max rounds")
	ErrFinalOutputSet   = errors.New("final output already set")
	ErrContextTruncated = errors.New("context may only be extended")
)

// Delta is the partial state a stage returns. Non-nil fields overwrite the
// corresponding AgentState field.
type Delta struct {
	Context           *string         `json:"context,omitempty"`
	Complexity        *string         `json:"complexity,omitempty"`
	PlanAnalysis      *string         `json:"plan_analysis,omitempty"`
	ExpertsConfig     []ExpertConfig  `json:"experts_config,omitempty"`
	ExpertResults     []ExpertResult  `json:"expert_results,omitempty"`
	SearchResults     []search.Result `json:"search_results,omitempty"`
	CriticFeedback    []string        `json:"critic_feedback,omitempty"`
	ReviewScore       *ReviewScore    `json:"review_score,omitempty"`
	Round             *int            `json:"round,omitempty"`
	FinalOutput       *string         `json:"final_output,omitempty"`
	SynthesisThoughts *string         `json:"synthesis_thoughts,omitempty"`
	StructuredOutput  map[string]any  `json:"structured_output,omitempty"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
}

// Apply merges d into s. It checks every invariant before writing anything,
// so a rejected delta leaves s untouched.
func (d Delta) Apply(s *AgentState) error {
	if d.Round != nil && *d.Round > s.MaxRounds {
		return fmt.Errorf("%w: round %d, max %d", ErrRoundLimit, *d.Round, s.MaxRounds)
	}
	if d.FinalOutput != nil && s.FinalOutput != "" {
		return ErrFinalOutputSet
	}
	if d.Context != nil && !strings.HasPrefix(*d.Context, s.Context) {
		return ErrContextTruncated
	}

	if d.Context != nil {
		s.Context = *d.Context
	}
	if d.Complexity != nil {
		s.Complexity = *d.Complexity
	}
	if d.PlanAnalysis != nil {
		s.PlanAnalysis = *d.PlanAnalysis
	}
	if d.ExpertsConfig != nil {
		s.ExpertsConfig = d.ExpertsConfig
	}
	if d.ExpertResults != nil {
		s.ExpertResults = d.ExpertResults
	}
	if d.SearchResults != nil {
		s.SearchResults = d.SearchResults
	}
	if d.CriticFeedback != nil {
		s.CriticFeedback = d.CriticFeedback
	}
	if d.ReviewScore != nil {
		s.ReviewScore = d.ReviewScore
	}
	if d.Round != nil {
		s.Round = *d.Round
	}
	if d.FinalOutput != nil {
		s.FinalOutput = *d.FinalOutput
	}
	if d.SynthesisThoughts != nil {
		s.SynthesisThoughts = *d.SynthesisThoughts
	}
	if d.StructuredOutput != nil {
		s.StructuredOutput = d.StructuredOutput
	}
	if d.EndTime != nil {
		s.EndTime = d.EndTime
	}
	return nil
}

// Ptr returns a pointer to v, for building deltas.
func Ptr[T any](v T) *T {
	return &v
}
