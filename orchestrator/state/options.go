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

package state

import "deepthink/shared/config"

// MaxRoundsLimit caps the per-request round override.
const MaxRoundsLimit = 10

// Options are per-request overrides. Zero values leave the configured
// value in place.
type Options struct {
	MaxRounds         int          `json:"max_rounds,omitempty"`
	Model             string       `json:"model,omitempty"`
	APIKey            string       `json:"api_key,omitempty"`
	BaseURL           string       `json:"base_url,omitempty"`
	FileContext       string       `json:"file_context,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	ExpertConcurrency int          `json:"expert_concurrency,omitempty"`
	MaxTokens         int          `json:"max_tokens,omitempty"`
}

// Apply returns cfg with o's overrides applied. cfg is not modified.
func (o Options) Apply(cfg config.Config) config.Config {
	out := cfg.Clone()
	if o.MaxRounds > 0 {
		out.System.MaxRounds = o.MaxRounds
	}
	if out.System.MaxRounds < 1 {
		out.System.MaxRounds = 1
	}
	if out.System.MaxRounds > MaxRoundsLimit {
		out.System.MaxRounds = MaxRoundsLimit
	}
	if o.Model != "" {
		out.LLM.Model = o.Model
	}
	if o.APIKey != "" {
		out.LLM.APIKey = o.APIKey
		out.LLM.APIKeySecretARN = ""
	}
	if o.BaseURL != "" {
		out.LLM.BaseURL = o.BaseURL
	}
	if o.ExpertConcurrency > 0 {
		out.System.ExpertConcurrency = o.ExpertConcurrency
	}
	if out.System.ExpertConcurrency < 1 {
		out.System.ExpertConcurrency = 1
	}
	if o.MaxTokens > 0 {
		out.System.MaxTokens = o.MaxTokens
	}
	return out
}

// Query builds the run input for text.
func (o Options) Query(text string) Query {
	return Query{
		Text:        text,
		FileContext: o.FileContext,
		Attachments: append([]Attachment(nil), o.Attachments...),
	}
}
