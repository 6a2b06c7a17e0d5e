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

package hydrator

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// lru is a bounded, insertion-ordered map from string key to an opaque
// byte-blob value, with move-to-MRU on every successful Get/Set. It is
// not concurrency-safe on its own — callers serialize access through
// HydrationContext's single readers-writer lock (spec §4.A, §5).
//
// The ordering core is hashicorp's simplelru, which already implements
// exactly the four invariants spec §3 asks for: bounded size, MRU
// promotion on Get, single-entry eviction only on a new key into a
// full map, and no eviction on overwrite.
type lru struct {
	core *simplelru.LRU[string, []byte]
}

func newLRU(capacity int) *lru {
	core, err := simplelru.NewLRU[string, []byte](capacity, nil)
	if err != nil {
		// Only returns an error for capacity <= 0, which is a
		// configuration mistake caught at startup, not runtime.
		panic(err)
	}
	return &lru{core: core}
}

// peek reads a value without promoting it to MRU, used by the cache
// probe phase so concurrent readers don't fight over ordering updates.
func (l *lru) peek(key string) ([]byte, bool) {
	return l.core.Peek(key)
}

// get reads a value and promotes it to MRU.
func (l *lru) get(key string) ([]byte, bool) {
	return l.core.Get(key)
}

// set inserts or updates key, promoting it to MRU and evicting the LRU
// entry only when the map is full and key is new.
func (l *lru) set(key string, value []byte) {
	l.core.Add(key, value)
}

func (l *lru) len() int {
	return l.core.Len()
}

// HydrationContext holds the two process-scoped caches and the single
// readers-writer lock that guards both (spec §9 Design Notes: an
// explicit value rather than module-level state, so lifetime and test
// isolation are visible at the call site).
type HydrationContext struct {
	mu           sync.RWMutex
	profileCache *lru
	postCache    *lru
}

// NewHydrationContext creates the two caches with the given capacities.
// Capacities are fixed for the context's lifetime (spec §3 "Cache
// lifecycle").
func NewHydrationContext(userCacheSize, postCacheSize int) *HydrationContext {
	return &HydrationContext{
		profileCache: newLRU(userCacheSize),
		postCache:    newLRU(postCacheSize),
	}
}

// ProfileCacheLen and PostCacheLen expose current occupancy for tests
// and metrics; they take the read lock like any other probe.
func (hc *HydrationContext) ProfileCacheLen() int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.profileCache.len()
}

func (hc *HydrationContext) PostCacheLen() int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.postCache.len()
}
