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
	"context"
	"time"

	"github.com/smartip/intervention-analytics/pkg/cdc"
	"github.com/smartip/intervention-analytics/pkg/state"
)

// applier runs the retract-then-apply sequence across the three pipelines.
// It assumes per-id serial invocation; the dispatcher guarantees it by
// giving each id a single shard owner.
type applier struct {
	// index maps id -> last applied contribution, the retraction basis
	// shared by all pipelines.
	index *state.Store[lastContribution]

	daily      *dailyPipeline
	technician *technicianPipeline
	geo        *geoPipeline
}

func newApplier(ctx context.Context, writer rowWriter, stateTTL time.Duration) *applier {
	return &applier{
		index:      state.NewStore[lastContribution](ctx, "retraction-index", stateTTL),
		daily:      newDailyPipeline(state.NewStore[dailyAccumulator](ctx, "daily-metrics", stateTTL), writer),
		technician: newTechnicianPipeline(state.NewStore[technicianAccumulator](ctx, "technician-load", stateTTL), writer),
		geo:        newGeoPipeline(writer),
	}
}

// apply processes one admitted event.
func (a *applier) apply(ev *cdc.InterventionChangeEvent) {
	key := indexKey(ev.ID)
	var prior *lastContribution
	if c, ok := a.index.Get(key); ok {
		prior = &c
	}

	if ev.Op.IsDelete() {
		if prior == nil {
			// Tombstone for an id never seen (or evicted): best-effort no-op.
			retractionIndexMissCount.Inc()
			return
		}
		a.daily.retract(prior, ev.SourceTS)
		a.technician.retract(prior, ev.SourceTS)
		a.geo.retract(ev.ID, prior)
		a.index.Delete(key)
		return
	}

	if prior == nil && ev.Op == cdc.OpUpdate {
		// An update with no known prior contribution applies as a fresh
		// insert rather than failing.
		retractionIndexMissCount.Inc()
	}

	a.daily.applyChange(ev, prior)
	a.technician.applyChange(ev, prior)

	next := contributionFrom(ev)
	next.GeoTS = a.geo.apply(ev, prior)
	a.index.Put(key, next)
}
