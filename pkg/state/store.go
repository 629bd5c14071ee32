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

/*
Package state implements the keyed accumulator storage owned by the
aggregation engine. Entries are evicted after a TTL of write inactivity to
bound memory. Eviction is space reclamation only; a key that reappears after
eviction starts over as a fresh key.
*/
package state

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/smartip/intervention-analytics/pkg/shared/logging"
)

const lockStripes = 64

// Store is a keyed, TTL-evicted map. Update gives exclusive per-key
// mutation through striped locks; there is no global lock.
type Store[V any] struct {
	name  string
	items *expirable.LRU[string, V]
	locks [lockStripes]sync.Mutex
	log   *zap.SugaredLogger
}

// NewStore returns a Store whose entries expire ttl after their last write.
func NewStore[V any](ctx context.Context, name string, ttl time.Duration) *Store[V] {
	s := &Store[V]{
		name: name,
		log:  logging.FromContext(ctx).With("store", name),
	}
	// Size 0 keeps the LRU unbounded; only the TTL evicts. The callback
	// also fires on explicit Remove, so the counter covers both.
	s.items = expirable.NewLRU[string, V](0, func(key string, _ V) {
		stateRemovedCount.WithLabelValues(name).Inc()
	}, ttl)
	return s
}

// Get returns the value for a key.
func (s *Store[V]) Get(key string) (V, bool) {
	return s.items.Get(key)
}

// Put writes the value for a key, resetting its TTL.
func (s *Store[V]) Put(key string, value V) {
	s.items.Add(key, value)
	stateSizeGauge.WithLabelValues(s.name).Set(float64(s.items.Len()))
}

// Update applies fn to the value under key while holding the key's lock, so
// at most one mutator touches a key at a time. fn receives the current value
// and whether it exists, and returns the new value and whether to keep it;
// returning false deletes the key. Emissions that must stay ordered per key
// belong inside fn.
func (s *Store[V]) Update(key string, fn func(v V, ok bool) (V, bool)) {
	lock := &s.locks[stripeFor(key)]
	lock.Lock()
	defer lock.Unlock()
	v, ok := s.items.Get(key)
	next, keep := fn(v, ok)
	if !keep {
		s.items.Remove(key)
	} else {
		s.items.Add(key, next)
	}
	stateSizeGauge.WithLabelValues(s.name).Set(float64(s.items.Len()))
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store[V]) Delete(key string) {
	s.items.Remove(key)
	stateSizeGauge.WithLabelValues(s.name).Set(float64(s.items.Len()))
}

// Len returns the number of live entries.
func (s *Store[V]) Len() int {
	return s.items.Len()
}

// Keys returns the live keys, oldest write first.
func (s *Store[V]) Keys() []string {
	return s.items.Keys()
}

func stripeFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % lockStripes
}
