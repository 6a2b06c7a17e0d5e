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

// Package metrics exposes the turbocharger Prometheus counters,
// grounded on the teacher's prometheusConfig.Enable/listen toggle in
// pkg/common/startrpc, generalized from gRPC server metrics to this
// pipeline's own batch/cache counters.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openimsdk/tools/log"
)

var (
	// BatchesDispatched counts batches handed to the hydration coordinator.
	BatchesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turbocharger_batches_dispatched_total",
		Help: "Number of event batches dispatched for hydration.",
	})

	// BatchesFailed counts batches dropped due to a hydration error.
	BatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turbocharger_batches_failed_total",
		Help: "Number of event batches dropped after a hydration failure.",
	})

	// SinkFailures counts Store calls that returned an error.
	SinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turbocharger_sink_failures_total",
		Help: "Number of sink Store calls that failed.",
	})

	// CacheHits counts profile/post cache hits, labeled by cache name.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turbocharger_cache_hits_total",
		Help: "Number of cache hits during hydration cache probing.",
	}, []string{"cache"})

	// CacheMisses counts profile/post cache misses, labeled by cache name.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turbocharger_cache_misses_total",
		Help: "Number of cache misses during hydration cache probing.",
	}, []string{"cache"})
)

// Serve starts the Prometheus HTTP exporter and blocks until ctx is
// canceled, mirroring the teacher's enable-flag-gated metrics listener.
func Serve(ctx context.Context, listenOn string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listenOn, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.ZInfo(ctx, "shutting down metrics server", "addr", listenOn)
		return srv.Close()
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
