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

// Package hydrator implements the hydration engine: the batching,
// caching, and bulk-fetch coordinator described in spec §4.A-§4.C.
package hydrator

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/graze-social/turbocharger/internal/metrics"
	"github.com/graze-social/turbocharger/pkg/blueskyapi"
	"github.com/graze-social/turbocharger/pkg/rawevent"
	"github.com/openimsdk/tools/errs"
)

// BatchSize is the number of raw events grouped into one hydration
// call (spec §4.C, B=10).
const BatchSize = 10

// HydratedMetadata is the resolved-reference payload of an enriched
// record (spec §3).
type HydratedMetadata struct {
	User       json.RawMessage            `json:"user"`
	Mentions   map[string]json.RawMessage `json:"mentions"`
	ParentPost json.RawMessage            `json:"parent_post"`
	ReplyPost  json.RawMessage            `json:"reply_post"`
	QuotePost  json.RawMessage            `json:"quote_post"`
}

// EnrichedRecord is the coordinator's per-event output (spec §3).
type EnrichedRecord struct {
	AtURI            string           `json:"at_uri"`
	DID              string           `json:"did"`
	TimeUS           *int64           `json:"time_us"`
	Message          map[string]any   `json:"message"`
	HydratedMetadata HydratedMetadata `json:"hydrated_metadata"`
}

// Hydrate runs the five-phase algorithm of spec §4.C over up to
// BatchSize raw events and returns one EnrichedRecord per input event,
// in input order (spec: "Determinism" / "output length equals input
// batch length").
func Hydrate(ctx context.Context, hc *HydrationContext, batch []rawevent.Event, pool *blueskyapi.Pool) ([]EnrichedRecord, error) {
	if len(batch) == 0 {
		return []EnrichedRecord{}, nil
	}

	// Phase 1: reference collection.
	perEvent := make([]ExtractedRefs, len(batch))
	allDIDs := make(map[string]struct{})
	allURIs := make(map[string]struct{})
	for i, e := range batch {
		refs := Extract(e)
		perEvent[i] = refs
		if refs.DID != "" {
			allDIDs[refs.DID] = struct{}{}
		}
		for d := range refs.Mentions {
			allDIDs[d] = struct{}{}
		}
		for _, u := range [...]string{refs.ParentURI, refs.RootURI, refs.QuoteURI} {
			if u != "" {
				allURIs[u] = struct{}{}
			}
		}
	}

	// Phase 2: cache probe, shared read lock, no MRU promotion yet.
	hc.mu.RLock()
	missingDIDs := make([]string, 0, len(allDIDs))
	for d := range allDIDs {
		if _, ok := hc.profileCache.peek(d); ok {
			metrics.CacheHits.WithLabelValues("profile").Inc()
		} else {
			metrics.CacheMisses.WithLabelValues("profile").Inc()
			missingDIDs = append(missingDIDs, d)
		}
	}
	missingURIs := make([]string, 0, len(allURIs))
	for u := range allURIs {
		if _, ok := hc.postCache.peek(u); ok {
			metrics.CacheHits.WithLabelValues("post").Inc()
		} else {
			metrics.CacheMisses.WithLabelValues("post").Inc()
			missingURIs = append(missingURIs, u)
		}
	}
	hc.mu.RUnlock()

	// Phase 3: bulk remote fetch. One client for the whole batch, two
	// concurrent bulk calls.
	client := pool.Pick()
	var fetchedProfiles map[string]blueskyapi.Profile
	var fetchedPosts map[string]blueskyapi.Post
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fetchedProfiles, err = client.GetProfiles(gctx, missingDIDs)
		return err
	})
	g.Go(func() error {
		var err error
		fetchedPosts, err = client.GetPosts(gctx, missingURIs)
		return err
	})
	if err := g.Wait(); err != nil {
		// spec §7.2: abandon this batch's hydration, caches untouched.
		return nil, errs.WrapMsg(err, "bulk hydration fetch failed")
	}

	// Phase 4: cache publication, exclusive write lock. Every key this
	// batch references is promoted to MRU here, whether freshly
	// fetched or a pre-existing hit.
	hc.mu.Lock()
	for did, profile := range fetchedProfiles {
		hc.profileCache.set(did, profile)
	}
	for uri, post := range fetchedPosts {
		hc.postCache.set(uri, post)
	}
	didToProfile := make(map[string]blueskyapi.Profile, len(allDIDs))
	for d := range allDIDs {
		if v, ok := hc.profileCache.get(d); ok {
			didToProfile[d] = v
		}
	}
	uriToPost := make(map[string]blueskyapi.Post, len(allURIs))
	for u := range allURIs {
		if v, ok := hc.postCache.get(u); ok {
			uriToPost[u] = v
		}
	}
	hc.mu.Unlock()

	// Phase 5: assembly.
	out := make([]EnrichedRecord, len(batch))
	for i, e := range batch {
		refs := perEvent[i]
		root := e.Root()
		commit := root.Get("commit")
		collection := commit.Get("collection").StrOr("")
		rkey := commit.Get("rkey").StrOr("")

		var atURI string
		if refs.DID != "" && collection != "" && rkey != "" {
			atURI = fmt.Sprintf("at://%s/%s/%s", refs.DID, collection, rkey)
		}

		var timeUS *int64
		if t, ok := root.Get("time_us").Int64(); ok {
			timeUS = &t
		}

		mentions := make(map[string]json.RawMessage, len(refs.Mentions))
		for d := range refs.Mentions {
			mentions[d] = didToProfile[d]
		}

		out[i] = EnrichedRecord{
			AtURI:   atURI,
			DID:     refs.DID,
			TimeUS:  timeUS,
			Message: e.Raw(),
			HydratedMetadata: HydratedMetadata{
				User:       didToProfile[refs.DID],
				Mentions:   mentions,
				ParentPost: postOrNil(refs.ParentURI, uriToPost),
				ReplyPost:  postOrNil(refs.RootURI, uriToPost),
				QuotePost:  postOrNil(refs.QuoteURI, uriToPost),
			},
		}
	}
	return out, nil
}

func postOrNil(uri string, uriToPost map[string]blueskyapi.Post) json.RawMessage {
	if uri == "" {
		return nil
	}
	return uriToPost[uri]
}
