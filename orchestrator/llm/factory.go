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
	"fmt"
	"sort"
	"sync"
)

// ProviderFactory builds a Provider. It rejects configs it cannot serve.
type ProviderFactory func(config ProviderConfig) (Provider, error)

// FactoryManager maps provider types to factories. Each Gateway owns one, so
// tests can register fakes without touching other instances.
type FactoryManager struct {
	mu     sync.RWMutex
	byType map[ProviderType]ProviderFactory
}

// NewFactoryManager returns a manager with the built-in providers registered.
func NewFactoryManager() *FactoryManager {
	m := NewEmptyFactoryManager()
	for pt, f := range map[ProviderType]ProviderFactory{
		ProviderTypeOpenAI:    NewOpenAIProviderFactory,
		ProviderTypeOllama:    NewOllamaProviderFactory,
		ProviderTypeAnthropic: NewAnthropicProviderFactory,
		ProviderTypeBedrock:   NewBedrockProviderFactory,
	} {
		m.Register(pt, f)
	}
	return m
}

// NewEmptyFactoryManager returns a manager with nothing registered.
func NewEmptyFactoryManager() *FactoryManager {
	return &FactoryManager{byType: make(map[ProviderType]ProviderFactory)}
}

// Register installs f for pt, replacing any previous factory.
func (m *FactoryManager) Register(pt ProviderType, f ProviderFactory) {
	m.mu.Lock()
	m.byType[pt] = f
	m.mu.Unlock()
}

// Types lists registered provider types in sorted order.
func (m *FactoryManager) Types() []ProviderType {
	m.mu.RLock()
	out := make([]ProviderType, 0, len(m.byType))
	for pt := range m.byType {
		out = append(out, pt)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Create builds a provider with the factory registered for config.Type.
func (m *FactoryManager) Create(config ProviderConfig) (Provider, error) {
	pt := config.Type
	if pt == "" {
		return nil, newFactoryError("", ErrFactoryMissingType, "no provider type set", nil)
	}

	m.mu.RLock()
	build, ok := m.byType[pt]
	m.mu.RUnlock()
	if !ok {
		return nil, newFactoryError(pt, ErrFactoryNotRegistered, "unknown provider type", nil)
	}

	p, err := build(config)
	if err != nil {
		return nil, newFactoryError(pt, ErrFactoryCreationFailed, "cannot build provider: "+err.Error(), err)
	}
	return p, nil
}

// Factory error codes.
const (
	ErrFactoryNotRegistered  = "factory_not_registered"
	ErrFactoryMissingType    = "factory_missing_type"
	ErrFactoryCreationFailed = "factory_creation_failed"
	ErrFactoryInvalidConfig  = "factory_invalid_config"
)

// FactoryError reports why a provider could not be built.
type FactoryError struct {
	ProviderType ProviderType
	Code         string
	Message      string
	Cause        error
}

func newFactoryError(pt ProviderType, code, msg string, cause error) *FactoryError {
	return &FactoryError{ProviderType: pt, Code: code, Message: msg, Cause: cause}
}

func invalidConfig(pt ProviderType, msg string) *FactoryError {
	return newFactoryError(pt, ErrFactoryInvalidConfig, msg, nil)
}

func (e *FactoryError) Error() string {
	if e.ProviderType == "" {
		return "llm factory: " + e.Message
	}
	return fmt.Sprintf("llm factory %s: %s", e.ProviderType, e.Message)
}

func (e *FactoryError) Unwrap() error {
	return e.Cause
}
