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

package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepthink/orchestrator/state"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Append(ctx, "a", state.Update{Type: state.UpdateNodeStart}))
	require.NoError(t, s.Append(ctx, "a", state.Update{Type: state.UpdateComplete}))

	got, err := s.Range(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, state.UpdateComplete, got[0].Type)

	got, err = s.Range(ctx, "b", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Delete(ctx, "a"))
	got, _ = s.Range(ctx, "a", 0)
	assert.Empty(t, got)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, time.Minute)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "task_1", state.Update{Type: state.UpdateNodeStart, Stage: state.StagePlanner}))
	require.NoError(t, s.Append(ctx, "task_1", state.Update{
		Type:  state.UpdateComplete,
		State: &state.AgentState{FinalOutput: "answer"},
	}))

	assert.True(t, mr.Exists("deepthink:task:task_1:updates"))
	assert.Equal(t, time.Minute, mr.TTL("deepthink:task:task_1:updates"))

	got, err := s.Range(ctx, "task_1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, state.StagePlanner, got[0].Stage)
	require.NotNil(t, got[1].State)
	assert.Equal(t, "answer", got[1].State.FinalOutput)

	got, err = s.Range(ctx, "task_1", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Delete(ctx, "task_1"))
	assert.False(t, mr.Exists("deepthink:task:task_1:updates"))
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, 0)
	defer s.Close()

	_, err := mr.Push("deepthink:task:bad:updates", "{not json")
	require.NoError(t, err)

	_, err = s.Range(context.Background(), "bad", 0)
	assert.Error(t, err)
}

func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	s.Close()

	_, err = NewRedisStore(context.Background(), "not-a-url://", time.Minute)
	assert.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisStore(context.Background(), "redis://"+addr+"/0", time.Minute)
	assert.Error(t, err)
}

func TestRegistryWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, time.Minute)
	defer store.Close()

	r := newTestRegistry(WithStore(store))
	defer r.Close()

	id := r.Create("q")
	r.Append(id, update(state.UpdateNodeStart, state.StagePlanner))
	r.Append(id, update(state.UpdateComplete, ""))

	assert.Len(t, r.Read(id, 0), 2)

	r.Delete(id)
	assert.False(t, mr.Exists("deepthink:task:"+id+":updates"))
}

func TestRegistry_SharedRedisStoreServesOtherReplica(t *testing.T) {
	mr := miniredis.RunT(t)
	ownerStore := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	defer ownerStore.Close()
	peerStore := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	defer peerStore.Close()

	owner := newTestRegistry(WithStore(ownerStore))
	defer owner.Close()
	peer := newTestRegistry(WithStore(peerStore))
	defer peer.Close()

	id := owner.Create("how does raft elect a leader")
	running := &state.AgentState{Query: state.Query{Text: "how does raft elect a leader"}}
	owner.Append(id, state.Update{Type: state.UpdateNodeStart, Stage: state.StagePlanner, State: running, Timestamp: time.Now()})

	snap, err := peer.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "how does raft elect a leader", snap.Query)
	assert.Equal(t, 1, snap.Updates)

	final := &state.AgentState{Query: running.Query, FinalOutput: "by vote"}
	owner.Append(id, state.Update{Type: state.UpdateComplete, State: final, Timestamp: time.Now()})

	got := peer.Read(id, 0)
	require.Len(t, got, 2)
	assert.Equal(t, state.UpdateComplete, got[1].Type)
	assert.Len(t, peer.Read(id, 1), 1)

	snap, err = peer.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.LastState)
	assert.Equal(t, "by vote", snap.LastState.FinalOutput)

	backlog, live, cancel, ok := peer.Subscribe(id, 1)
	require.True(t, ok)
	defer cancel()
	require.Len(t, backlog, 1)
	_, open := <-live
	assert.False(t, open)

	assert.Equal(t, 0, peer.Len())

	owner.Delete(id)
	assert.Empty(t, peer.Read(id, 0))
	_, err = peer.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, _, ok = peer.Subscribe(id, 0)
	assert.False(t, ok)
}
