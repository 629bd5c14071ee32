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

package sinks

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/smartip/intervention-analytics/pkg/shared/logging"
)

// AsyncWriter applies rows asynchronously while preserving per-key order:
// every row for a primary key lands on the same shard, and each shard is a
// single goroutine applying its rows in arrival order. A row that still
// fails after the upserter's own retries is logged and dropped so one bad
// key cannot stall the rest of the pipeline.
type AsyncWriter struct {
	upserter Upserter
	shards   []chan Row
	wg       sync.WaitGroup
	drainCtx context.Context
	log      *zap.SugaredLogger

	shardCount int
	bufferSize int
}

// WriterOption customizes an AsyncWriter.
type WriterOption func(*AsyncWriter)

// WithShardCount sets the number of concurrent write shards.
func WithShardCount(n int) WriterOption {
	return func(w *AsyncWriter) {
		w.shardCount = n
	}
}

// WithBufferSize sets the per-shard channel buffer.
func WithBufferSize(n int) WriterOption {
	return func(w *AsyncWriter) {
		w.bufferSize = n
	}
}

// NewAsyncWriter returns an AsyncWriter over the given upserter.
func NewAsyncWriter(ctx context.Context, upserter Upserter, opts ...WriterOption) *AsyncWriter {
	w := &AsyncWriter{
		upserter:   upserter,
		log:        logging.FromContext(ctx).With("component", "sink-writer"),
		shardCount: 4,
		bufferSize: 256,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the shard workers. Workers run until Stop closes their
// channels; they finish draining buffered rows even when ctx is canceled,
// which is what lets shutdown flush in-flight writes.
func (w *AsyncWriter) Start(ctx context.Context) {
	w.drainCtx = context.WithoutCancel(ctx)
	w.shards = make([]chan Row, w.shardCount)
	for i := range w.shards {
		ch := make(chan Row, w.bufferSize)
		w.shards[i] = ch
		w.wg.Add(1)
		go func(ch <-chan Row) {
			defer w.wg.Done()
			for row := range ch {
				if err := w.upserter.Upsert(w.drainCtx, row); err != nil {
					sinkDropCount.WithLabelValues(row.Table()).Inc()
					w.log.Errorw("Dropping sink row after exhausted retries",
						zap.String("table", row.Table()), zap.String("key", row.Key()), zap.Error(err))
					continue
				}
				sinkWriteCount.WithLabelValues(row.Table()).Inc()
			}
		}(ch)
	}
}

// Write enqueues one row. Blocks when the owning shard's buffer is full,
// which back-pressures the aggregation pipelines rather than dropping data.
func (w *AsyncWriter) Write(row Row) {
	w.shards[w.shardFor(row.Key())] <- row
}

// Stop closes the shard channels and waits for buffered rows to be applied.
// Callers must have stopped producing before calling Stop.
func (w *AsyncWriter) Stop() {
	for _, ch := range w.shards {
		close(ch)
	}
	w.wg.Wait()
}

func (w *AsyncWriter) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(w.shardCount))
}
