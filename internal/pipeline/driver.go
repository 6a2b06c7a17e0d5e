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

package pipeline

import (
	"context"

	"github.com/graze-social/turbocharger/internal/hydrator"
	"github.com/graze-social/turbocharger/internal/metrics"
	"github.com/graze-social/turbocharger/pkg/blueskyapi"
	"github.com/graze-social/turbocharger/pkg/rawevent"
	"github.com/openimsdk/tools/log"
)

// Source is the external event-stream collaborator (spec §6): an
// async iterator of RawEvents. Events closes on end-of-stream; errs
// carries at most one terminal error.
type Source interface {
	Events(ctx context.Context) (events <-chan rawevent.Event, errs <-chan error)
}

// Sink is the external persistence/publish collaborator (spec §6):
// persists a batch and publishes each record downstream.
type Sink interface {
	Store(ctx context.Context, batch []hydrator.EnrichedRecord) error
}

// Config holds the admission/batching knobs spec §6 names.
type Config struct {
	BatchSize          int
	MaxInFlightBatches int
	Modulo             int
	Shard              int
}

// Driver wires source → batcher → coordinator → sink and owns
// shutdown/drain (spec §4.F). It carries no reconnect logic: a source
// disconnect ends the run.
type Driver struct {
	hc      *hydrator.HydrationContext
	pool    *blueskyapi.Pool
	sink    Sink
	batcher *Batcher
}

// NewDriver builds a Driver. hc and pool are the shared hydration
// state; sink receives every completed batch.
func NewDriver(hc *hydrator.HydrationContext, pool *blueskyapi.Pool, sink Sink, cfg Config) *Driver {
	d := &Driver{hc: hc, pool: pool, sink: sink}
	filter := ShardFilter{Modulo: cfg.Modulo, Shard: cfg.Shard}
	d.batcher = NewBatcher(cfg.BatchSize, cfg.MaxInFlightBatches, filter, d.hydrateAndStore)
	return d
}

// hydrateAndStore is the per-batch background task the admission
// controller dispatches. It runs to completion even if the driver's
// run context is later canceled (spec §5 Cancellation: in-flight
// hydrations are awaited, not aborted, to preserve at-least-once
// delivery into the sink).
func (d *Driver) hydrateAndStore(batch []rawevent.Event) {
	ctx := context.Background()
	metrics.BatchesDispatched.Inc()
	enriched, err := hydrator.Hydrate(ctx, d.hc, batch, d.pool)
	if err != nil {
		// spec §7.2: log, abandon this batch, caches untouched, permit
		// released by the deferred batcher bookkeeping.
		metrics.BatchesFailed.Inc()
		log.ZError(ctx, "hydration failed, batch dropped", err, "batchSize", len(batch))
		return
	}
	if err := d.sink.Store(ctx, enriched); err != nil {
		// spec §7.6: sink failures surface but are not retried by the core.
		metrics.SinkFailures.Inc()
		log.ZError(ctx, "sink store failed", err, "batchSize", len(enriched))
	}
}

// Run reads the source until end-of-stream or error, feeding every
// event through the batcher, then flushes any partial batch and
// drains all in-flight hydrations before returning.
func (d *Driver) Run(ctx context.Context, source Source) error {
	events, errc := source.Events(ctx)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				d.batcher.Flush(ctx)
				d.batcher.Wait()
				// events and errs close together on source end-of-stream; a
				// terminal error may already be sitting on errc when this
				// select happened to wake on events instead, so drain it
				// before reporting a clean exit.
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			d.batcher.Submit(ctx, e)
		case err := <-errc:
			d.batcher.Flush(ctx)
			d.batcher.Wait()
			return err
		case <-ctx.Done():
			d.batcher.Wait()
			return ctx.Err()
		}
	}
}
