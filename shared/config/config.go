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

// Package config loads deepthink configuration from built-in defaults, an
// optional YAML file and environment overrides, and exposes the current
// values through a Store that notifies listeners on change.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Search provider names.
const (
	SearchProviderNone   = "none"
	SearchProviderExa    = "exa"
	SearchProviderTavily = "tavily"
)

// Limits enforced by Validate.
const (
	MinRounds = 1
	MaxRounds = 10
)

// Config is the full runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	LLM     LLMConfig     `yaml:"llm" json:"llm"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	System  SystemConfig  `yaml:"system" json:"system"`
	Tasks   TasksConfig   `yaml:"tasks" json:"tasks"`
	Archive ArchiveConfig `yaml:"archive" json:"archive"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Port        string   `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// LLMConfig selects and authenticates the model provider.
type LLMConfig struct {
	Provider        string `yaml:"provider" json:"provider"`
	APIKey          string `yaml:"api_key" json:"-"`
	APIKeySecretARN string `yaml:"api_key_secret_arn" json:"api_key_secret_arn,omitempty"`
	BaseURL         string `yaml:"base_url" json:"base_url"`
	Model           string `yaml:"model" json:"model"`
	Region          string `yaml:"region" json:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// SearchConfig configures the optional web search enrichment.
type SearchConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Provider     string `yaml:"provider" json:"provider"`
	ExaAPIKey    string `yaml:"exa_api_key" json:"-"`
	TavilyAPIKey string `yaml:"tavily_api_key" json:"-"`
	MaxResults   int    `yaml:"max_results" json:"max_results"`
}

// SystemConfig holds pipeline tuning knobs.
type SystemConfig struct {
	MaxRounds         int     `yaml:"max_rounds" json:"max_rounds"`
	ExpertConcurrency int     `yaml:"expert_concurrency" json:"expert_concurrency"`
	QualityThreshold  float64 `yaml:"quality_threshold" json:"quality_threshold"`
	// EnforceReview lets the reviewer's satisfied flag drive round looping.
	// Off by default: every round is treated as satisfied.
	EnforceReview bool `yaml:"enforce_review" json:"enforce_review"`
	MaxTokens     int  `yaml:"max_tokens" json:"max_tokens"`
}

// TasksConfig configures the task registry.
type TasksConfig struct {
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	RedisURL      string        `yaml:"redis_url" json:"-"`
}

// ArchiveConfig enables the PostgreSQL run archive when DatabaseURL is set.
type ArchiveConfig struct {
	DatabaseURL string `yaml:"database_url" json:"-"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        "3001",
			CORSOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4",
			TimeoutSeconds: 120,
		},
		Search: SearchConfig{
			Enabled:    false,
			Provider:   SearchProviderNone,
			MaxResults: 5,
		},
		System: SystemConfig{
			MaxRounds:         1,
			ExpertConcurrency: 4,
			QualityThreshold:  0.85,
		},
		Tasks: TasksConfig{
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Log: LogConfig{Level: "INFO"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.APIKeySecretARN = getEnv("LLM_API_KEY_SECRET_ARN", cfg.LLM.APIKeySecretARN)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Region = getEnv("BEDROCK_REGION", getEnv("AWS_REGION", cfg.LLM.Region))
	cfg.LLM.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.LLM.AccessKeyID)
	cfg.LLM.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.LLM.SecretAccessKey)
	cfg.LLM.TimeoutSeconds = getEnvInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)

	cfg.Search.Enabled = getEnvBool("SEARCH_ENABLED", cfg.Search.Enabled)
	cfg.Search.Provider = getEnv("SEARCH_PROVIDER", cfg.Search.Provider)
	cfg.Search.ExaAPIKey = getEnv("EXA_API_KEY", cfg.Search.ExaAPIKey)
	cfg.Search.TavilyAPIKey = getEnv("TAVILY_API_KEY", cfg.Search.TavilyAPIKey)
	cfg.Search.MaxResults = getEnvInt("SEARCH_MAX_RESULTS", cfg.Search.MaxResults)

	cfg.System.MaxRounds = getEnvInt("MAX_ROUNDS", cfg.System.MaxRounds)
	cfg.System.ExpertConcurrency = getEnvInt("EXPERT_CONCURRENCY", cfg.System.ExpertConcurrency)
	cfg.System.EnforceReview = getEnvBool("ENFORCE_REVIEW", cfg.System.EnforceReview)
	cfg.System.MaxTokens = getEnvInt("LLM_MAX_TOKENS", cfg.System.MaxTokens)

	cfg.Tasks.TTL = getEnvDuration("TASK_TTL", cfg.Tasks.TTL)
	cfg.Tasks.SweepInterval = getEnvDuration("TASK_SWEEP_INTERVAL", cfg.Tasks.SweepInterval)
	cfg.Tasks.RedisURL = getEnv("TASKS_REDIS_URL", cfg.Tasks.RedisURL)

	cfg.Archive.DatabaseURL = getEnv("ARCHIVE_DATABASE_URL", cfg.Archive.DatabaseURL)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.System.MaxRounds < MinRounds || c.System.MaxRounds > MaxRounds {
		return fmt.Errorf("system.max_rounds must be between %d and %d, got %d", MinRounds, MaxRounds, c.System.MaxRounds)
	}
	if c.System.ExpertConcurrency < 1 {
		return fmt.Errorf("system.expert_concurrency must be at least 1, got %d", c.System.ExpertConcurrency)
	}
	switch c.Search.Provider {
	case SearchProviderNone, SearchProviderExa, SearchProviderTavily:
	default:
		return fmt.Errorf("search.provider must be one of none, exa, tavily, got %q", c.Search.Provider)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Tasks.TTL <= 0 || c.Tasks.SweepInterval <= 0 {
		return fmt.Errorf("tasks.ttl and tasks.sweep_interval must be positive")
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
