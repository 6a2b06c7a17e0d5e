// Copyright © 2024 OpenIM. All rights reserved.
//
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

// Package pipeline wires the Jetstream source, the batching/admission
// controller, the hydration coordinator and the sink together (spec
// §4.E, §4.F), generalizing the teacher's pkg/tools/batcher worker
// pool from a fixed-worker model to a permit-bounded admission model.
package pipeline

import (
	"context"
	"sync"

	"github.com/graze-social/turbocharger/internal/hydrator"
	"github.com/graze-social/turbocharger/pkg/rawevent"
)

// DefaultMaxInFlightBatches is the admission semaphore size (spec §6,
// maxInFlightBatches=100).
const DefaultMaxInFlightBatches = 100

// ShardFilter keeps events whose time_us falls on a configured shard;
// spec §4.E and §9 Design Notes ("Shard filter oddity") call out that
// the intended behavior is "filter iff modulo > 0" — shard 0 with a
// positive modulo is a valid selector, unlike the original's buggy
// `not modulo and not shard` check.
type ShardFilter struct {
	Modulo int
	Shard  int
}

// Active reports whether the filter is in effect.
func (f ShardFilter) Active() bool {
	return f.Modulo > 0
}

// Keep decides whether an event with the given time_us (and whether
// time_us was present at all) survives the filter.
func (f ShardFilter) Keep(timeUS int64, hasTimeUS bool) bool {
	if !f.Active() {
		return true
	}
	if !hasTimeUS {
		return false
	}
	return timeUS%int64(f.Modulo) == int64(f.Shard)
}

// Batcher accumulates raw events into fixed-size batches, applies an
// optional shard filter, and bounds concurrent in-flight batches with
// a counting semaphore (spec §4.E).
type Batcher struct {
	batchSize int
	filter    ShardFilter
	dispatch  func(batch []rawevent.Event)

	sem chan struct{}
	wg  sync.WaitGroup

	buf []rawevent.Event
}

// NewBatcher builds a Batcher. dispatch is invoked once per completed
// batch, from a background goroutine.
func NewBatcher(batchSize, maxInFlight int, filter ShardFilter, dispatch func([]rawevent.Event)) *Batcher {
	if batchSize <= 0 {
		batchSize = hydrator.BatchSize
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlightBatches
	}
	return &Batcher{
		batchSize: batchSize,
		filter:    filter,
		dispatch:  dispatch,
		sem:       make(chan struct{}, maxInFlight),
	}
}

// Submit feeds one raw event through the shard filter and into the
// buffer. Once the buffer holds at least batchSize events, it carves
// off and dispatches batches until the remainder is below threshold.
func (b *Batcher) Submit(ctx context.Context, e rawevent.Event) {
	timeUS, hasTimeUS := e.Root().Get("time_us").Int64()
	if !b.filter.Keep(timeUS, hasTimeUS) {
		return
	}

	b.buf = append(b.buf, e)
	for len(b.buf) >= b.batchSize {
		batch := append([]rawevent.Event(nil), b.buf[:b.batchSize]...)
		b.buf = b.buf[b.batchSize:]
		b.dispatchBatch(ctx, batch)
	}
}

// Flush dispatches any partial batch remaining in the buffer, used on
// source end-of-stream.
func (b *Batcher) Flush(ctx context.Context) {
	if len(b.buf) == 0 {
		return
	}
	batch := b.buf
	b.buf = nil
	b.dispatchBatch(ctx, batch)
}

// dispatchBatch acquires one admission permit, then hands the batch to
// a background goroutine and returns immediately — it does not wait
// for the batch to finish (spec §4.E: "The dispatcher returns as soon
// as the permit is acquired — not when the batch completes").
func (b *Batcher) dispatchBatch(ctx context.Context, batch []rawevent.Event) {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()
		b.dispatch(batch)
	}()
}

// Wait blocks until every dispatched batch has completed, used at
// shutdown to drain in-flight work before closing the sink.
func (b *Batcher) Wait() {
	b.wg.Wait()
}
