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

// Package tasks tracks long-running deep-think runs by opaque id. Each task
// owns an append-only update log that pollers read by index and streamers
// subscribe to. Idle tasks are evicted after a TTL.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"deepthink/orchestrator/state"
	"deepthink/shared/logger"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Defaults used when no option overrides them.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute

	subscriberBuffer = 64

	// DefaultStoreTimeout bounds each call into the update log store.
	DefaultStoreTimeout = 5 * time.Second
)

// ErrNotFound is returned by Get for unknown or evicted ids.
var ErrNotFound = errors.New("task not found")

// Snapshot is a read-only view of a task.
type Snapshot struct {
	ID        string            `json:"id"`
	Query     string            `json:"query"`
	Status    Status            `json:"status"`
	LastState *state.AgentState `json:"last_state,omitempty"`
	Updates   int               `json:"updates"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type record struct {
	mu sync.Mutex

	id        string
	query     string
	status    Status
	lastState *state.AgentState
	count     int
	createdAt time.Time
	updatedAt time.Time
	deleted   bool

	// timer is the single inactivity timer of this task; nil once terminal.
	timer *time.Timer

	subscribers map[int]chan state.Update
	nextSub     int
}

// EvictHook observes evictions. reason is "timer" or "sweep".
type EvictHook func(id, reason string)

// Registry owns all task records.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*record

	store         Store
	storeTimeout  time.Duration
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *logger.Logger
	onEvict       EvictHook

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the inactivity TTL.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithSweepInterval sets how often the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithStore replaces the in-memory update log.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// WithClock replaces time.Now for activity bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithEvictHook registers an eviction observer.
func WithEvictHook(h EvictHook) Option {
	return func(r *Registry) { r.onEvict = h }
}

// NewRegistry creates a Registry. Call Start to run the periodic sweep.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks:         make(map[string]*record),
		store:         NewMemoryStore(),
		storeTimeout:  DefaultStoreTimeout,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        logger.New("tasks"),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the periodic sweep.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.sweepLoop()
}

// Close stops the sweep and every pending timer. Records stay readable.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	records := make([]*record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		records = append(records, rec)
	}
	r.mu.Unlock()

	for _, rec := range records {
		rec.mu.Lock()
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
		rec.mu.Unlock()
	}
}

// Create registers a new running task and returns its id.
func (r *Registry) Create(query string) string {
	id := "task_" + uuid.NewString()
	now := r.now()

	rec := &record{
		id:          id,
		query:       query,
		status:      StatusRunning,
		createdAt:   now,
		updatedAt:   now,
		subscribers: make(map[int]chan state.Update),
	}
	rec.timer = time.AfterFunc(r.ttl, func() { r.expire(rec) })

	r.mu.Lock()
	r.tasks[id] = rec
	r.mu.Unlock()

	r.logger.Debug(id, "", "task created", nil)
	return id
}

// Append adds u to the task's log. Unknown ids are ignored.
func (r *Registry) Append(id string, u state.Update) {
	rec := r.lookup(id)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return
	}

	ctx, cancel := r.storeContext()
	err := r.store.Append(ctx, id, u)
	cancel()
	if err != nil {
		// The update still drives status and reaches live subscribers;
		// pollers reading by index will not see it.
		r.logger.ErrorWithErr(id, string(u.Stage), "failed to persist update", err,
			map[string]interface{}{"type": string(u.Type)})
	} else {
		rec.count++
	}

	rec.updatedAt = r.now()
	if u.State != nil {
		rec.lastState = u.State
	}

	switch u.Type {
	case state.UpdateComplete:
		rec.status = StatusCompleted
	case state.UpdateNodeError:
		rec.status = StatusError
	}

	if u.Terminal() {
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	} else if rec.timer != nil {
		rec.timer.Reset(r.ttl)
	}

	for subID, ch := range rec.subscribers {
		select {
		case ch <- u:
		default:
			// Slow reader: detach it. It can resume by reading from an index.
			close(ch)
			delete(rec.subscribers, subID)
		}
	}
	if u.Terminal() {
		rec.closeSubscribers()
	}
}

// Read returns the updates from index from onward. Ids this registry does
// not own are read from the store, so a shared store serves tasks running
// on another replica. Unknown or evicted ids yield an empty slice.
func (r *Registry) Read(id string, from int) []state.Update {
	if from < 0 {
		from = 0
	}
	rec := r.lookup(id)
	if rec == nil {
		return r.rangeStore(id, from)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return []state.Update{}
	}
	return r.rangeStore(id, from)
}

// Subscribe returns the backlog from index from and a channel of later
// updates, registered atomically so nothing is missed in between. The
// channel closes after a terminal update, on Delete, on cancel, or when the
// reader falls too far behind. ok is false for unknown ids.
//
// A task owned by another replica is served from the store: the backlog is
// returned with an already closed channel and the caller resumes by index.
func (r *Registry) Subscribe(id string, from int) (backlog []state.Update, updates <-chan state.Update, cancel func(), ok bool) {
	if from < 0 {
		from = 0
	}
	rec := r.lookup(id)
	if rec == nil {
		all := r.rangeStore(id, 0)
		if len(all) == 0 {
			return nil, nil, func() {}, false
		}
		if from > len(all) {
			from = len(all)
		}
		ch := make(chan state.Update)
		close(ch)
		return all[from:], ch, func() {}, true
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, nil, func() {}, false
	}

	backlog = r.rangeStore(id, from)

	ch := make(chan state.Update, subscriberBuffer)
	if rec.status != StatusRunning {
		close(ch)
		return backlog, ch, func() {}, true
	}

	subID := rec.nextSub
	rec.nextSub++
	rec.subscribers[subID] = ch

	cancel = func() {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if c, ok := rec.subscribers[subID]; ok {
			close(c)
			delete(rec.subscribers, subID)
		}
	}
	return backlog, ch, cancel, true
}

// Get returns a snapshot of the task. For ids owned by another replica the
// snapshot is rebuilt from the stored log.
func (r *Registry) Get(id string) (Snapshot, error) {
	rec := r.lookup(id)
	if rec == nil {
		log := r.rangeStore(id, 0)
		if len(log) == 0 {
			return Snapshot{}, ErrNotFound
		}
		return snapshotFromLog(id, log), nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return Snapshot{}, ErrNotFound
	}
	return Snapshot{
		ID:        rec.id,
		Query:     rec.query,
		Status:    rec.status,
		LastState: rec.lastState,
		Updates:   rec.count,
		CreatedAt: rec.createdAt,
		UpdatedAt: rec.updatedAt,
	}, nil
}

// Delete cancels the task's timer, drops its log and closes its
// subscribers. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	delete(r.tasks, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.release(rec)
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Sweep evicts every task whose last activity is older than the TTL,
// including finished ones. It returns the number evicted.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var stale []*record
	for _, rec := range r.tasks {
		rec.mu.Lock()
		if !rec.updatedAt.After(cutoff) {
			stale = append(stale, rec)
		}
		rec.mu.Unlock()
	}
	for _, rec := range stale {
		delete(r.tasks, rec.id)
	}
	r.mu.Unlock()

	for _, rec := range stale {
		r.release(rec)
		r.evicted(rec.id, "sweep")
	}
	return len(stale)
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("", "", "swept idle tasks", map[string]interface{}{"evicted": n})
			}
		case <-r.stop:
			return
		}
	}
}

// expire runs when a task's inactivity timer fires.
func (r *Registry) expire(rec *record) {
	rec.mu.Lock()
	if rec.deleted || rec.status != StatusRunning || rec.timer == nil {
		rec.mu.Unlock()
		return
	}
	idle := r.now().Sub(rec.updatedAt)
	if idle < r.ttl {
		// Activity raced with the fire; re-arm the same timer for the remainder.
		rec.timer.Reset(r.ttl - idle)
		rec.mu.Unlock()
		return
	}
	rec.mu.Unlock()

	r.mu.Lock()
	if r.tasks[rec.id] != rec {
		r.mu.Unlock()
		return
	}
	delete(r.tasks, rec.id)
	r.mu.Unlock()

	r.release(rec)
	r.evicted(rec.id, "timer")
}

func (r *Registry) release(rec *record) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return
	}
	rec.deleted = true
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.closeSubscribers()
	ctx, cancel := r.storeContext()
	defer cancel()
	if err := r.store.Delete(ctx, rec.id); err != nil {
		r.logger.ErrorWithErr(rec.id, "", "failed to delete update log", err, nil)
	}
}

func (r *Registry) evicted(id, reason string) {
	r.logger.Info(id, "", "task evicted", map[string]interface{}{"reason": reason})
	if r.onEvict != nil {
		r.onEvict(id, reason)
	}
}

func (r *Registry) rangeStore(id string, from int) []state.Update {
	ctx, cancel := r.storeContext()
	defer cancel()
	updates, err := r.store.Range(ctx, id, from)
	if err != nil {
		r.logger.ErrorWithErr(id, "", "failed to read updates", err, nil)
		return []state.Update{}
	}
	return updates
}

func (r *Registry) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.storeTimeout)
}

// snapshotFromLog derives a snapshot from a non-empty update log.
func snapshotFromLog(id string, log []state.Update) Snapshot {
	last := log[len(log)-1]
	snap := Snapshot{
		ID:        id,
		Status:    StatusRunning,
		Updates:   len(log),
		CreatedAt: log[0].Timestamp,
		UpdatedAt: last.Timestamp,
	}
	switch last.Type {
	case state.UpdateComplete:
		snap.Status = StatusCompleted
	case state.UpdateNodeError:
		snap.Status = StatusError
	}
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].State != nil {
			snap.LastState = log[i].State
			snap.Query = log[i].State.Query.Text
			break
		}
	}
	return snap
}

func (r *Registry) lookup(id string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

func (rec *record) closeSubscribers() {
	for subID, ch := range rec.subscribers {
		close(ch)
		delete(rec.subscribers, subID)
	}
}
