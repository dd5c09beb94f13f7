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
	"encoding/json"
	"strconv"
	"strings"
)

// Accessors for loosely typed model JSON. A value of the wrong type reads
// as absent instead of failing the whole document.

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// textField renders scalars as text; other types read as "".
func textField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func numberField(m map[string]any, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}

// scoreField also accepts numeric strings such as "0.8".
func scoreField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func boolField(m map[string]any, key string) (bool, bool) {
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return false, false
	}
}

// listField reads a list of strings. A lone string is a one-item list and
// non-string items are kept as compact JSON. Blank items are dropped.
func listField(m map[string]any, key string) []string {
	var items []any
	switch v := m[key].(type) {
	case []any:
		items = v
	case string:
		items = []any{v}
	default:
		return []string{}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		var text string
		switch v := item.(type) {
		case nil:
			continue
		case string:
			text = v
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			text = string(data)
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
