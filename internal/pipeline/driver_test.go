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
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graze-social/turbocharger/internal/hydrator"
	"github.com/graze-social/turbocharger/pkg/blueskyapi"
	"github.com/graze-social/turbocharger/pkg/rawevent"
)

type fakeSource struct {
	events []rawevent.Event
}

func (s *fakeSource) Events(ctx context.Context) (<-chan rawevent.Event, <-chan error) {
	out := make(chan rawevent.Event)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, e := range s.events {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errc
}

type recordingSink struct {
	mu    sync.Mutex
	batch [][]hydrator.EnrichedRecord
}

func (s *recordingSink) Store(ctx context.Context, batch []hydrator.EnrichedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, batch)
	return nil
}

type noopBlueskyClient struct{}

func (noopBlueskyClient) GetProfiles(ctx context.Context, dids []string) (map[string]blueskyapi.Profile, error) {
	return map[string]blueskyapi.Profile{}, nil
}
func (noopBlueskyClient) GetPosts(ctx context.Context, uris []string) (map[string]blueskyapi.Post, error) {
	return map[string]blueskyapi.Post{}, nil
}

func makeEvent(t *testing.T, did string, n int) rawevent.Event {
	t.Helper()
	e, err := rawevent.Parse([]byte(`{"did":"` + did + `","time_us":` + strconv.Itoa(n) + `,"commit":{"collection":"app.bsky.feed.post","rkey":"r","record":{}}}`))
	require.NoError(t, err)
	return e
}

func TestDriverRunFlushesAndDrainsOnEndOfStream(t *testing.T) {
	hc := hydrator.NewHydrationContext(10, 10)
	pool := blueskyapi.NewPool(noopBlueskyClient{})
	sink := &recordingSink{}

	events := []rawevent.Event{
		makeEvent(t, "did:plc:a", 1),
		makeEvent(t, "did:plc:b", 2),
	}
	driver := NewDriver(hc, pool, sink, Config{BatchSize: 10, MaxInFlightBatches: 5})

	err := driver.Run(context.Background(), &fakeSource{events: events})
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batch, 1, "a partial batch should still be flushed and stored once the source ends")
	assert.Len(t, sink.batch[0], 2)
}
