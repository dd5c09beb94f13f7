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

package orchestrator

import (
	"context"
	"sync"
	"time"

	"deepthink/orchestrator/history"
	"deepthink/orchestrator/state"
	"deepthink/orchestrator/tasks"
	"deepthink/shared/logger"
)

// Archiver persists finished runs.
type Archiver interface {
	Record(ctx context.Context, run history.Run) error
}

// TaskRunner executes runs in the background and feeds their updates into
// the task registry.
type TaskRunner struct {
	engine   *Engine
	registry *tasks.Registry
	archive  Archiver
	logger   *logger.Logger

	base    context.Context
	stopAll context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewTaskRunner creates a runner. archive may be nil.
func NewTaskRunner(engine *Engine, registry *tasks.Registry, archive Archiver, l *logger.Logger) *TaskRunner {
	base, stop := context.WithCancel(context.Background())
	return &TaskRunner{
		engine:   engine,
		registry: registry,
		archive:  archive,
		logger:   l,
		base:     base,
		stopAll:  stop,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start creates a task for query and runs it in the background.
func (r *TaskRunner) Start(query string, opts state.Options) string {
	id := r.registry.Create(query)

	ctx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	promRunsInFlight.Inc()
	go func() {
		defer r.wg.Done()
		defer promRunsInFlight.Dec()
		defer r.forget(id)
		r.execute(ctx, id, query, opts)
	}()

	r.logger.Info(id, "", "task started", nil)
	return id
}

// Cancel stops the run behind id if it is still executing.
func (r *TaskRunner) Cancel(id string) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every run and waits for them to return or for ctx to
// expire.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	r.stopAll()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *TaskRunner) execute(ctx context.Context, id, query string, opts state.Options) {
	var last state.Update
	for u := range r.engine.Stream(ctx, query, opts) {
		r.registry.Append(id, u)
		last = u
	}

	switch last.Type {
	case state.UpdateComplete:
		promRuns.WithLabelValues(history.StatusCompleted).Inc()
	case state.UpdateNodeError:
		promRuns.WithLabelValues(history.StatusError).Inc()
	default:
		promRuns.WithLabelValues("cancelled").Inc()
		r.logger.Warn(id, "", "task run cancelled", nil)
		return
	}

	if r.archive == nil || last.State == nil {
		return
	}
	run := history.FromState(id, last.State, last.Error, time.Now())
	archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.archive.Record(archiveCtx, run); err != nil {
		r.logger.ErrorWithErr(id, "", "failed to archive run", err, nil)
	}
}

func (r *TaskRunner) forget(id string) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
