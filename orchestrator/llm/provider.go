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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Provider is the model capability the pipeline depends on.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the instance name used in logs and metrics.
	Name() string

	// Type returns the implementation type.
	Type() ProviderType

	// Complete runs one chat completion. ctx bounds the call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck reports whether the provider looks usable.
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)
}

// ProviderConfig describes how to construct a provider.
type ProviderConfig struct {
	Name string       `json:"name"`
	Type ProviderType `json:"type"`

	// APIKey authenticates against the provider API. Bedrock uses IAM instead.
	APIKey string `json:"-"`

	// APIKeySecretARN names an AWS Secrets Manager secret holding the key.
	// Used when APIKey is empty.
	APIKeySecretARN string `json:"api_key_secret_arn,omitempty"`

	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`

	// Region, AccessKeyID and SecretAccessKey configure Bedrock.
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Fingerprint summarizes the fields that identify a distinct provider handle:
// type, credential, endpoint and model. The credential is hashed so the
// fingerprint can be logged and used as a map key without leaking it.
func (c ProviderConfig) Fingerprint() string {
	parts := []string{
		string(c.Type),
		c.APIKey,
		c.APIKeySecretARN,
		c.AccessKeyID,
		c.SecretAccessKey,
		strings.TrimRight(c.Endpoint, "/"),
		c.Region,
		c.Model,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return string(c.Type) + ":" + hex.EncodeToString(sum[:12])
}
