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

// Package extract recovers JSON documents from free-form model output.
//
// Model replies often wrap JSON in markdown fences or surround it with prose.
// The extractor strips fences and parses; if that fails it retries once on the
// span between the first '{' and the last '}'. Anything else is a ParseError.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseError reports model output that could not be recovered as JSON.
// Cause is the error from the first parse attempt and Snippet the start of
// the output.
type ParseError struct {
	Cause   error
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("failed to parse JSON from model output: %v", e.Cause)
	}
	return fmt.Sprintf("failed to parse JSON from model output: %v (output: %q)", e.Cause, e.Snippet)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Into decodes the JSON document found in text into v.
func Into(text string, v any) error {
	cleaned := StripFences(text)

	err := json.Unmarshal([]byte(cleaned), v)
	if err == nil {
		return nil
	}

	first := strings.Index(cleaned, "{")
	last := strings.LastIndex(cleaned, "}")
	if first != -1 && last > first {
		if retryErr := json.Unmarshal([]byte(cleaned[first:last+1]), v); retryErr == nil {
			return nil
		}
	}

	return &ParseError{Cause: err, Snippet: truncate(text, 200)}
}

// Value decodes the JSON document found in text into a generic structure.
func Value(text string) (any, error) {
	var v any
	if err := Into(text, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Object decodes text into a JSON object.
func Object(text string) (map[string]any, error) {
	var m map[string]any
	if err := Into(text, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &ParseError{Cause: fmt.Errorf("expected a JSON object"), Snippet: truncate(text, 200)}
	}
	return m, nil
}

// StripFences removes ```json and ``` markers and trims surrounding space.
func StripFences(text string) string {
	s := strings.ReplaceAll(text, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// truncate keeps at most maxLen runes of s.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
