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

// Package fanout runs independent tasks with a concurrency bound and
// delivers their outcomes in completion order.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Settled is the outcome of one task. Index is the task's submission position.
type Settled[T any] struct {
	Index int
	Value T
	Err   error
}

// PanicError is returned in Settled.Err when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Run starts tasks with at most limit running at once and returns a channel
// that yields each outcome as it settles. A failing task never affects its
// siblings. The channel is closed after every task has settled.
//
// The channel is buffered for all tasks, so workers never block on a slow or
// absent reader. Tasks that have not started yet are still started after ctx
// is cancelled; they observe the cancelled ctx and should return promptly.
func Run[T any](ctx context.Context, limit int, tasks []Task[T]) <-chan Settled[T] {
	if limit < 1 {
		limit = 1
	}

	out := make(chan Settled[T], len(tasks))

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(limit)

		for i, task := range tasks {
			i, task := i, task
			g.Go(func() error {
				v, err := call(ctx, task)
				out <- Settled[T]{Index: i, Value: v, Err: err}
				return nil
			})
		}

		_ = g.Wait()
	}()

	return out
}

// Collect drains Run and returns outcomes in completion order.
func Collect[T any](ctx context.Context, limit int, tasks []Task[T]) []Settled[T] {
	results := make([]Settled[T], 0, len(tasks))
	for s := range Run(ctx, limit, tasks) {
		results = append(results, s)
	}
	return results
}

func call[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}
