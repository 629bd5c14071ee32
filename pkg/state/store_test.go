/*
Copyright 2024 The SmartIP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore[int](context.Background(), "test", time.Hour)

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Put("a", 1)
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, s.Len())

	s.Delete("a")
	_, ok = s.Get("a")
	assert.False(t, ok)

	// deleting an absent key is a no-op
	s.Delete("a")
	assert.Equal(t, 0, s.Len())
}

func TestStore_UpdateCreatesAndDeletes(t *testing.T) {
	s := NewStore[int](context.Background(), "test-update", time.Hour)

	s.Update("k", func(v int, ok bool) (int, bool) {
		assert.False(t, ok)
		return 10, true
	})
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	s.Update("k", func(v int, ok bool) (int, bool) {
		assert.True(t, ok)
		return v + 1, true
	})
	v, _ = s.Get("k")
	assert.Equal(t, 11, v)

	s.Update("k", func(v int, ok bool) (int, bool) {
		return v, false
	})
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestStore_UpdateIsExclusivePerKey(t *testing.T) {
	s := NewStore[int](context.Background(), "test-concurrent", time.Hour)
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("counter", func(v int, ok bool) (int, bool) {
				return v + 1, true
			})
		}()
	}
	wg.Wait()
	v, ok := s.Get("counter")
	require.True(t, ok)
	assert.Equal(t, n, v)
}

func TestStore_KeysOldestWriteFirst(t *testing.T) {
	s := NewStore[int](context.Background(), "test-keys", time.Hour)
	s.Put("a", 1)
	s.Put("b", 2)
	s.Put("c", 3)
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())

	// a rewrite moves the key to the newest position
	s.Put("a", 4)
	assert.Equal(t, []string{"b", "c", "a"}, s.Keys())
}

func TestStore_RemovedCounterCoversExplicitDeletes(t *testing.T) {
	s := NewStore[int](context.Background(), "test-removed", time.Hour)
	counter := stateRemovedCount.WithLabelValues("test-removed")
	before := testutil.ToFloat64(counter)

	s.Put("a", 1)
	s.Delete("a")
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	s.Update("b", func(v int, ok bool) (int, bool) { return 1, true })
	s.Update("b", func(v int, ok bool) (int, bool) { return v, false })
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestStore_TTLEviction(t *testing.T) {
	s := NewStore[int](context.Background(), "test-ttl", 20*time.Millisecond)
	s.Put("a", 1)
	require.Equal(t, 1, s.Len())

	assert.Eventually(t, func() bool {
		_, ok := s.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond, "entry should be evicted after its TTL")
}
