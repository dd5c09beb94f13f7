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

import "time"

// UpdateType classifies a progress update.
type UpdateType string

const (
	UpdateNodeStart      UpdateType = "node_start"
	UpdateNodeComplete   UpdateType = "node_complete"
	UpdateExpertComplete UpdateType = "expert_complete"
	UpdateNodeError      UpdateType = "node_error"
	UpdateComplete       UpdateType = "complete"
)

// Update is one progress event of a run.
type Update struct {
	Type      UpdateType    `json:"type"`
	Stage     Stage         `json:"stage,omitempty"`
	State     *AgentState   `json:"state,omitempty"`
	Delta     *Delta        `json:"delta,omitempty"`
	Expert    *ExpertResult `json:"expert,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`

	// Err keeps the typed failure for in-process consumers.
	Err error `json:"-"`
}

// Terminal reports whether u ends a run.
func (u Update) Terminal() bool {
	return u.Type == UpdateComplete || u.Type == UpdateNodeError
}
