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
Package llm provides the model provider capability for deepthink.

# Providers

  - openai: any OpenAI-compatible chat completions API (base URL includes /v1)
  - ollama: a local Ollama server through its OpenAI-compatible API
  - anthropic: the Anthropic messages API
  - bedrock: AWS Bedrock via the runtime SDK (anthropic, amazon, meta, mistral families)

# Gateway

The Gateway turns a ProviderConfig into a Provider and caches the result by
fingerprint (type, credential, endpoint, model):

	gw := llm.NewGateway(llm.WithSecretResolver(resolver))
	p, err := gw.Resolve(ctx, llm.ProviderConfig{Type: llm.ProviderTypeOpenAI, APIKey: key})

When credentials change, call Invalidate. Callers holding a handle keep
using it; only later Resolve calls build a new one.

Keys may be supplied indirectly through APIKeySecretARN, resolved with AWS
Secrets Manager on the first Resolve for that fingerprint.
*/
package llm
