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

/*
Package orchestrator implements the deepthink service: a multi-expert
reasoning pipeline over a single LLM provider.

# Overview

A run takes a user query, optionally with uploaded file text, and walks a
fixed stage graph:

	planner → [file_analysis] → search → experts → critic → reviewer → synthesizer

The planner picks between three and seven expert roles depending on the
query's complexity. Experts answer in parallel, bounded by
system.expert_concurrency. The critic and reviewer assess the round; when
system.enforce_review is set an unsatisfied review loops back to the
planner until max_rounds is reached. The synthesizer writes the final
answer plus an optional structured summary.

A query that refers to a file whose text is too short to analyze skips
every model call and returns a fixed explanation.

# Engine

Engine.Stream emits ordered progress updates (node_start, node_complete,
expert_complete, node_error, complete) and closes the channel after the
terminal update. Engine.Invoke drains the stream and returns the final
state. The configuration is captured once when a run starts, so a reload
never changes a run in flight.

	engine := NewEngine(gateway, store)
	final, err := engine.Invoke(ctx, "How does MVCC work?", state.Options{MaxRounds: 2})

# HTTP API

	POST   /api/v1/tasks               start a background task
	GET    /api/v1/tasks/{id}?from=N   poll updates from index N
	GET    /api/v1/tasks/{id}/stream   Server-Sent Events
	DELETE /api/v1/tasks/{id}          cancel and forget a task
	POST   /deepthink/invoke           synchronous run
	POST   /v1/chat/completions        OpenAI-compatible endpoint
	GET    /api/v1/runs                archived runs (PostgreSQL)
	GET    /api/v1/providers/health    provider health check
	GET    /health                     liveness
	GET    /prometheus                 metrics

Tasks live in memory, or in Redis when tasks.redis_url is set, and are
evicted after tasks.ttl of inactivity.
*/
package orchestrator
