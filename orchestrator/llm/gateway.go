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
	"fmt"
	"log"
	"os"
	"sync"
)

// Gateway resolves provider handles from configuration. Handles are cached
// by fingerprint so repeated runs with the same settings reuse one client.
//
// Invalidate clears the cache for future Resolve calls only; a handle that
// was already returned stays usable by whoever holds it.
type Gateway struct {
	factories *FactoryManager
	secrets   SecretResolver
	logger    *log.Logger

	mu     sync.Mutex
	cache  map[string]Provider
	builds int
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithFactoryManager replaces the built-in factories.
func WithFactoryManager(m *FactoryManager) GatewayOption {
	return func(g *Gateway) { g.factories = m }
}

// WithSecretResolver enables APIKeySecretARN resolution.
func WithSecretResolver(r SecretResolver) GatewayOption {
	return func(g *Gateway) { g.secrets = r }
}

// WithLogger sets the gateway logger.
func WithLogger(l *log.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a Gateway with the built-in provider factories.
func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{
		factories: NewFactoryManager(),
		logger:    log.New(os.Stdout, "[LLM_GATEWAY] ", log.LstdFlags),
		cache:     make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GatewayError wraps a failure to produce a provider handle.
type GatewayError struct {
	Fingerprint string
	Cause       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("failed to resolve provider %s: %v", e.Fingerprint, e.Cause)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Resolve returns the cached handle for config's fingerprint, constructing
// and caching one on a miss. Construction happens under the lock so
// concurrent misses for the same fingerprint build a single handle.
func (g *Gateway) Resolve(ctx context.Context, config ProviderConfig) (Provider, error) {
	fp := config.Fingerprint()

	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.cache[fp]; ok {
		return p, nil
	}

	resolved := config
	if resolved.APIKey == "" && resolved.APIKeySecretARN != "" {
		if g.secrets == nil {
			return nil, &GatewayError{Fingerprint: fp, Cause: fmt.Errorf("api key secret configured but no secret resolver available")}
		}
		key, err := g.secrets.Resolve(ctx, resolved.APIKeySecretARN)
		if err != nil {
			return nil, &GatewayError{Fingerprint: fp, Cause: err}
		}
		resolved.APIKey = key
	}

	p, err := g.factories.Create(resolved)
	if err != nil {
		return nil, &GatewayError{Fingerprint: fp, Cause: err}
	}

	g.cache[fp] = p
	g.builds++
	g.logger.Printf("Created provider %s (%s), fingerprint %s", p.Name(), p.Type(), fp)
	return p, nil
}

// Invalidate drops all cached handles.
func (g *Gateway) Invalidate() {
	g.mu.Lock()
	n := len(g.cache)
	g.cache = make(map[string]Provider)
	g.mu.Unlock()

	if r, ok := g.secrets.(interface{ Forget() }); ok {
		r.Forget()
	}
	g.logger.Printf("Invalidated %d cached provider(s)", n)
}

// Size returns the number of cached handles.
func (g *Gateway) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

// Builds returns how many handles have been constructed so far.
func (g *Gateway) Builds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.builds
}
