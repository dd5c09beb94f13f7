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

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockDefaultModel is used when no model is configured.
const BedrockDefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// BedrockInvoker is the subset of the Bedrock runtime client used here.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// NewBedrockProviderFactory builds a Bedrock provider. Credentials come from
// the default AWS chain unless static keys are configured.
func NewBedrockProviderFactory(config ProviderConfig) (Provider, error) {
	if config.Region == "" {
		return nil, invalidConfig(ProviderTypeBedrock, "region is required for Bedrock provider")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewBedrockProvider(config, bedrockruntime.NewFromConfig(cfg)), nil
}

// NewBedrockProvider wraps an existing runtime client.
func NewBedrockProvider(config ProviderConfig, client BedrockInvoker) *BedrockProvider {
	model := config.Model
	if model == "" {
		model = BedrockDefaultModel
	}
	name := config.Name
	if name == "" {
		name = string(ProviderTypeBedrock)
	}
	return &BedrockProvider{
		name:    name,
		client:  client,
		region:  config.Region,
		model:   model,
		healthy: true,
	}
}

// BedrockProvider implements Provider for AWS Bedrock using AWS SDK v2.
type BedrockProvider struct {
	name    string
	client  BedrockInvoker
	region  string
	model   string
	healthy bool
	mu      sync.RWMutex
}

// Name returns the provider instance name.
func (p *BedrockProvider) Name() string {
	return p.name
}

// Type returns the provider type.
func (p *BedrockProvider) Type() ProviderType {
	return ProviderTypeBedrock
}

// Complete invokes the model with a body shaped for its family.
func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = 0.7
	}

	family := detectBedrockModelFamily(model)
	body, err := buildBedrockBody(family, req, maxTokens, temperature)
	if err != nil {
		return nil, NewProviderError(p.name, ErrCodeInvalidRequest, err.Error())
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.setHealthy(false)
		perr := NewProviderError(p.name, ErrCodeUnavailable, err.Error())
		perr.Cause = err
		return nil, perr
	}
	p.setHealthy(true)

	resp, err := parseBedrockBody(family, output.Body)
	if err != nil {
		perr := NewProviderError(p.name, ErrCodeBadResponse, err.Error())
		perr.Cause = err
		return nil, perr
	}
	resp.Model = model
	resp.Latency = time.Since(start)
	return resp, nil
}

// HealthCheck reports the health observed on recent calls.
func (p *BedrockProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	p.mu.RLock()
	healthy := p.healthy && p.region != ""
	p.mu.RUnlock()

	status := HealthStatusUnhealthy
	if healthy {
		status = HealthStatusHealthy
	}
	return &HealthCheckResult{Status: status, Message: "region " + p.region, LastChecked: time.Now()}, nil
}

func (p *BedrockProvider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

func buildBedrockBody(family string, req CompletionRequest, maxTokens int, temperature float64) (map[string]any, error) {
	switch family {
	case "anthropic":
		system, turns := req.SystemAndTurns()
		body := map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages":          turns,
		}
		if system != "" {
			body["system"] = system
		}
		return body, nil
	case "amazon":
		return map[string]any{
			"inputText": flattenMessages(req.Messages),
			"textGenerationConfig": map[string]any{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]any{
			"prompt":      flattenMessages(req.Messages),
			"max_gen_len": maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]any{
			"prompt":      flattenMessages(req.Messages),
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family: %q", family)
	}
}

func parseBedrockBody(family string, body []byte) (*CompletionResponse, error) {
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		var b strings.Builder
		for _, c := range resp.Content {
			b.WriteString(c.Text)
		}
		return &CompletionResponse{
			Content:      b.String(),
			FinishReason: resp.StopReason,
			Usage: UsageStats{
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			},
		}, nil
	case "amazon":
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
				TokenCount int    `json:"tokenCount"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		out := &CompletionResponse{Usage: UsageStats{PromptTokens: resp.InputTextTokenCount}}
		if len(resp.Results) > 0 {
			out.Content = resp.Results[0].OutputText
			out.Usage.CompletionTokens = resp.Results[0].TokenCount
		}
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
		return out, nil
	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return &CompletionResponse{
			Content: resp.Generation,
			Usage: UsageStats{
				PromptTokens:     resp.PromptTokenCount,
				CompletionTokens: resp.GenTokenCount,
				TotalTokens:      resp.PromptTokenCount + resp.GenTokenCount,
			},
		}, nil
	case "mistral":
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		out := &CompletionResponse{}
		if len(resp.Outputs) > 0 {
			out.Content = resp.Outputs[0].Text
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported model family: %q", family)
	}
}

// flattenMessages renders a chat as a single prompt for text-only families.
func flattenMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

// inferenceProfilePrefixes are the Bedrock regional inference profile prefixes.
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

var supportedBedrockFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// detectBedrockModelFamily extracts the family from ids such as
// "anthropic.claude-3-5-sonnet-20240620-v1:0" or "eu.anthropic.claude-...".
func detectBedrockModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}

	family := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if family == prefix {
			family = segments[1]
			break
		}
	}

	for _, supported := range supportedBedrockFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}

var _ Provider = (*BedrockProvider)(nil)
