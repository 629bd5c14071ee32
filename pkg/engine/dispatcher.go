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

package engine

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/smartip/intervention-analytics/pkg/cdc"
)

// dispatcher fans admitted events out to shard workers. All events for one
// intervention id land on the same shard and are processed in arrival
// order by that single owner, which is what keeps the retract-then-apply
// sequences race free. Distinct ids proceed concurrently.
type dispatcher struct {
	shards  []chan *cdc.InterventionChangeEvent
	wg      sync.WaitGroup
	process func(*cdc.InterventionChangeEvent)
}

func newDispatcher(shardCount, bufferSize int, process func(*cdc.InterventionChangeEvent)) *dispatcher {
	d := &dispatcher{
		shards:  make([]chan *cdc.InterventionChangeEvent, shardCount),
		process: process,
	}
	for i := range d.shards {
		d.shards[i] = make(chan *cdc.InterventionChangeEvent, bufferSize)
	}
	return d
}

func (d *dispatcher) start() {
	for _, ch := range d.shards {
		d.wg.Add(1)
		go func(ch <-chan *cdc.InterventionChangeEvent) {
			defer d.wg.Done()
			for ev := range ch {
				d.process(ev)
			}
		}(ch)
	}
}

// dispatch enqueues one event; blocks when the owning shard is saturated.
func (d *dispatcher) dispatch(ev *cdc.InterventionChangeEvent) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(ev.ID, 10)))
	d.shards[int(h.Sum32()%uint32(len(d.shards)))] <- ev
}

// stop closes the shards and waits for in-flight events to finish.
// Callers must have stopped dispatching first.
func (d *dispatcher) stop() {
	for _, ch := range d.shards {
		close(ch)
	}
	d.wg.Wait()
}
