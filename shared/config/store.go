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

package config

import "sync"

// Source exposes the current configuration.
type Source interface {
	Current() Config
}

// ChangeHook is called after the stored configuration is replaced.
type ChangeHook func(previous, current Config)

// Store holds the live configuration. Readers get copies, so a snapshot taken
// at the start of a run is unaffected by later replacements.
type Store struct {
	mu    sync.RWMutex
	cfg   Config
	hooks []ChangeHook
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg.Clone()}
}

// Current returns a copy of the configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// OnChange registers a hook fired after every successful Replace.
func (s *Store) OnChange(hook ChangeHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Replace validates and installs cfg, then fires hooks outside the lock.
func (s *Store) Replace(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.cfg
	s.cfg = cfg.Clone()
	hooks := append([]ChangeHook(nil), s.hooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(previous, cfg.Clone())
	}
	return nil
}

// Reload re-reads path and replaces the stored configuration.
func (s *Store) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	return s.Replace(cfg)
}

var _ Source = (*Store)(nil)
