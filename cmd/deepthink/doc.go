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
Command deepthink runs the DeepThink orchestration service.

DeepThink answers a query by running it through a fixed pipeline of model
calls: a planner picks a panel of experts, optional file analysis and web
search enrich the context, the experts answer in parallel, a critic and a
reviewer assess the round, and a synthesizer writes the final answer.

# Usage

	deepthink

# Configuration

Settings come from built-in defaults, then the YAML file named by
DEEPTHINK_CONFIG, then environment variables. Sending SIGHUP reloads the
file; cached provider handles are dropped when the LLM section changes.

Server:
  - PORT: HTTP port (default: 3001)
  - CORS_ORIGINS: comma separated allowed origins (default: *)

Model provider:
  - LLM_PROVIDER: openai, anthropic, bedrock or ollama (default: openai)
  - LLM_API_KEY or OPENAI_API_KEY: provider API key
  - LLM_API_KEY_SECRET_ARN: AWS Secrets Manager secret holding the key
  - LLM_BASE_URL: API base URL (default: https://api.openai.com/v1)
  - LLM_MODEL: model name (default: gpt-4)
  - LLM_TIMEOUT_SECONDS: per-call timeout (default: 120)
  - BEDROCK_REGION or AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY

Search:
  - SEARCH_ENABLED: true to enable web search (default: false)
  - SEARCH_PROVIDER: none, exa or tavily (default: none)
  - EXA_API_KEY, TAVILY_API_KEY
  - SEARCH_MAX_RESULTS: results per query (default: 5)

Pipeline:
  - MAX_ROUNDS: review rounds, 1 to 10 (default: 1)
  - EXPERT_CONCURRENCY: parallel expert calls (default: 4)
  - ENFORCE_REVIEW: let the reviewer send a round back to the planner
  - LLM_MAX_TOKENS: completion token limit

Tasks and storage:
  - TASK_TTL: idle task lifetime (default: 30m)
  - TASK_SWEEP_INTERVAL: eviction sweep period (default: 5m)
  - TASKS_REDIS_URL: keep task update logs in Redis
  - ARCHIVE_DATABASE_URL: archive finished runs in PostgreSQL
  - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)

# Example

	export OPENAI_API_KEY="sk-..."
	./deepthink

	curl -X POST localhost:3001/api/v1/tasks -d '{"query":"Compare B-trees and LSM trees"}'
	curl localhost:3001/api/v1/tasks/<task_id>/stream
*/
package main
