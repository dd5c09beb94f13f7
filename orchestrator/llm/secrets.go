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
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretResolver turns a secret reference into an API key.
type SecretResolver interface {
	Resolve(ctx context.Context, secretARN string) (string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretResolver reads API keys from AWS Secrets Manager with a TTL cache.
// A secret may be a bare string or a JSON object with an "api_key" field.
type AWSSecretResolver struct {
	client SecretsManagerAPI
	ttl    time.Duration
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]secretCacheEntry
}

type secretCacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewAWSSecretResolver loads the default AWS configuration for region.
func NewAWSSecretResolver(ctx context.Context, region string, ttl time.Duration) (*AWSSecretResolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSecretResolverWithClient(secretsmanager.NewFromConfig(cfg), ttl), nil
}

// NewAWSSecretResolverWithClient wraps an existing client.
func NewAWSSecretResolverWithClient(client SecretsManagerAPI, ttl time.Duration) *AWSSecretResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretResolver{
		client: client,
		ttl:    ttl,
		logger: log.New(os.Stdout, "[SECRETS] ", log.LstdFlags),
		cache:  make(map[string]secretCacheEntry),
	}
}

// Resolve implements SecretResolver.
func (r *AWSSecretResolver) Resolve(ctx context.Context, secretARN string) (string, error) {
	r.mu.Lock()
	entry, ok := r.cache[secretARN]
	r.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	r.logger.Printf("Fetching secret %s", maskARN(secretARN))

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	value := parseSecretValue(*out.SecretString)
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", maskARN(secretARN))
	}

	r.mu.Lock()
	r.cache[secretARN] = secretCacheEntry{value: value, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return value, nil
}

// Forget drops every cached secret.
func (r *AWSSecretResolver) Forget() {
	r.mu.Lock()
	r.cache = make(map[string]secretCacheEntry)
	r.mu.Unlock()
}

func parseSecretValue(raw string) string {
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err == nil {
		for _, key := range []string{"api_key", "apiKey", "value"} {
			if v := fields[key]; v != "" {
				return v
			}
		}
		return ""
	}
	return strings.TrimSpace(raw)
}

// maskARN keeps the last path segment readable and hides the account.
func maskARN(arn string) string {
	if i := strings.LastIndex(arn, ":"); i >= 0 && i < len(arn)-1 {
		return "arn:...:" + arn[i+1:]
	}
	if len(arn) > 8 {
		return arn[:4] + "..." + arn[len(arn)-4:]
	}
	return "***"
}
