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
	"fmt"
	"net/http"
	"strings"
	"time"

	"deepthink/orchestrator/llm"
	"deepthink/orchestrator/state"
)

// Model name reported by the OpenAI-compatible endpoint when the request
// leaves the provider model alone.
const chatModelName = "deepthink"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// lastUserMessage returns the content of the final user turn.
func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	query := lastUserMessage(req.Messages)
	if query == "" {
		sendErrorResponse(w, "a user message is required", http.StatusBadRequest)
		return
	}

	opts := state.Options{MaxTokens: req.MaxTokens}
	model := chatModelName
	if req.Model != "" && req.Model != chatModelName {
		opts.Model = req.Model
		model = req.Model
	}

	if req.Stream {
		s.streamChat(w, r, query, model, opts)
		return
	}

	final, err := s.engine.Invoke(r.Context(), query, opts)
	if err != nil {
		s.logger.ErrorWithErr("", "", "chat completion failed", err, nil)
		sendErrorResponse(w, err.Error(), statusFor(err))
		return
	}

	stop := "stop"
	writeJSON(w, http.StatusOK, chatResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      &chatMessage{Role: llm.RoleAssistant, Content: final.FinalOutput},
			FinishReason: &stop,
		}},
	})
}

// streamChat relays pipeline progress as reasoning chunks and the final
// answer as content.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, query, model string, opts state.Options) {
	sse := newSSEWriter(w)
	if sse == nil {
		sendErrorResponse(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := newCompletionID()
	created := time.Now().Unix()
	chunk := func(delta chatDelta, finish *string) error {
		return sse.data(chatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chatChoice{{Delta: &delta, FinishReason: finish}},
		})
	}

	if err := chunk(chatDelta{Role: llm.RoleAssistant}, nil); err != nil {
		return
	}

	for u := range s.engine.Stream(r.Context(), query, opts) {
		var err error
		switch u.Type {
		case state.UpdateNodeStart:
			err = chunk(chatDelta{ReasoningContent: fmt.Sprintf("[%s] started\n", u.Stage)}, nil)
		case state.UpdateExpertComplete:
			if u.Expert != nil {
				err = chunk(chatDelta{ReasoningContent: fmt.Sprintf("[experts] %s: %s\n", u.Expert.Role, u.Expert.Status)}, nil)
			}
		case state.UpdateNodeError:
			_ = sse.data(errorResponse{Success: false, Error: u.Error})
			_ = sse.raw("[DONE]")
			return
		case state.UpdateComplete:
			if u.State != nil {
				if err = chunk(chatDelta{Content: u.State.FinalOutput}, nil); err != nil {
					return
				}
			}
			stop := "stop"
			if err = chunk(chatDelta{}, &stop); err != nil {
				return
			}
			_ = sse.raw("[DONE]")
			return
		}
		if err != nil {
			return
		}
	}
}
