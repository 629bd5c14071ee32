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

// Package watermark tracks stream progress per source partition and gates
// out-of-order arrival against a fixed allowed lateness.
package watermark

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/smartip/intervention-analytics/pkg/shared/logging"
)

// partitionProgress holds the per-partition high mark and the wall-clock
// instant it last moved.
type partitionProgress struct {
	// maxSeen is the max source timestamp observed, unix millis.
	maxSeen *atomic.Int64
	// lastObserved is the wall-clock time of the last Observe, unix millis.
	lastObserved *atomic.Int64
}

// Tracker admits or rejects events per partition. An event is late once the
// partition watermark (max observed source time minus the allowed lateness)
// has passed it. Late events are dropped from aggregation, never
// retroactively corrected.
type Tracker struct {
	lateness    time.Duration
	idleTimeout time.Duration

	lock       sync.RWMutex
	partitions map[int32]*partitionProgress

	log *zap.SugaredLogger
}

// NewTracker returns a Tracker with the given allowed lateness and
// idle-source timeout.
func NewTracker(ctx context.Context, lateness, idleTimeout time.Duration) *Tracker {
	return &Tracker{
		lateness:    lateness,
		idleTimeout: idleTimeout,
		partitions:  make(map[int32]*partitionProgress),
		log:         logging.FromContext(ctx).With("component", "watermark-tracker"),
	}
}

// Observe records an event's source time for a partition and reports whether
// the event is admitted. The first event of a partition is always admitted.
func (t *Tracker) Observe(partition int32, sourceTS time.Time) bool {
	p := t.progressFor(partition)
	ms := sourceTS.UnixMilli()
	now := time.Now().UnixMilli()

	for {
		cur := p.maxSeen.Load()
		if ms <= cur {
			break
		}
		if p.maxSeen.CompareAndSwap(cur, ms) {
			break
		}
	}
	p.lastObserved.Store(now)

	wm := p.maxSeen.Load() - t.lateness.Milliseconds()
	if ms < wm {
		lateEventCount.Inc()
		t.log.Debugw("Dropping late event",
			zap.Int32("partition", partition),
			zap.Time("sourceTS", sourceTS),
			zap.Time("watermark", time.UnixMilli(wm)))
		return false
	}
	return true
}

// WatermarkFor returns the current watermark of a partition. The zero time
// means the partition has not been observed yet.
func (t *Tracker) WatermarkFor(partition int32) time.Time {
	t.lock.RLock()
	p, ok := t.partitions[partition]
	t.lock.RUnlock()
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(p.maxSeen.Load() - t.lateness.Milliseconds()).UTC()
}

// Watermark returns the min watermark across all observed partitions, the
// stream-wide progress marker.
func (t *Tracker) Watermark() time.Time {
	t.lock.RLock()
	defer t.lock.RUnlock()
	var min int64
	var found bool
	for _, p := range t.partitions {
		wm := p.maxSeen.Load() - t.lateness.Milliseconds()
		if !found || wm < min {
			min, found = wm, true
		}
	}
	if !found {
		return time.Time{}
	}
	return time.UnixMilli(min).UTC()
}

// Start runs the idle-source sweep until the context is done. A partition
// with no events for the idle timeout has its high mark advanced to
// wall-clock time so that a quiescent bus does not hold the watermark back.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.idleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.advanceIdle()
			}
		}
	}()
}

func (t *Tracker) advanceIdle() {
	now := time.Now()
	nowMS := now.UnixMilli()
	idleBefore := nowMS - t.idleTimeout.Milliseconds()

	t.lock.RLock()
	for partition, p := range t.partitions {
		if p.lastObserved.Load() > idleBefore {
			continue
		}
		if p.maxSeen.Load() >= nowMS {
			continue
		}
		p.maxSeen.Store(nowMS)
		t.log.Debugw("Advanced watermark of idle partition",
			zap.Int32("partition", partition), zap.Time("watermark", now.Add(-t.lateness)))
	}
	t.lock.RUnlock()
	watermarkGauge.Set(float64(t.Watermark().UnixMilli()))
}

func (t *Tracker) progressFor(partition int32) *partitionProgress {
	t.lock.RLock()
	p, ok := t.partitions[partition]
	t.lock.RUnlock()
	if ok {
		return p
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if p, ok = t.partitions[partition]; ok {
		return p
	}
	p = &partitionProgress{
		maxSeen:      atomic.NewInt64(0),
		lastObserved: atomic.NewInt64(time.Now().UnixMilli()),
	}
	t.partitions[partition] = p
	return p
}
