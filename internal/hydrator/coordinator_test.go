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
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graze-social/turbocharger/pkg/blueskyapi"
	"github.com/graze-social/turbocharger/pkg/rawevent"
)

// fakeClient serves profiles/posts out of an in-memory map and counts
// how many times each bulk method is invoked, so tests can assert on
// cache behavior (a repeat lookup should not re-hit the "remote").
type fakeClient struct {
	profiles map[string]blueskyapi.Profile
	posts    map[string]blueskyapi.Post

	profileCalls int32
	postCalls    int32
}

func (f *fakeClient) GetProfiles(ctx context.Context, dids []string) (map[string]blueskyapi.Profile, error) {
	if len(dids) > 0 {
		atomic.AddInt32(&f.profileCalls, 1)
	}
	out := make(map[string]blueskyapi.Profile, len(dids))
	for _, d := range dids {
		if p, ok := f.profiles[d]; ok {
			out[d] = p
		}
	}
	return out, nil
}

func (f *fakeClient) GetPosts(ctx context.Context, uris []string) (map[string]blueskyapi.Post, error) {
	if len(uris) > 0 {
		atomic.AddInt32(&f.postCalls, 1)
	}
	out := make(map[string]blueskyapi.Post, len(uris))
	for _, u := range uris {
		if p, ok := f.posts[u]; ok {
			out[u] = p
		}
	}
	return out, nil
}

func poolOf(c blueskyapi.Client) *blueskyapi.Pool {
	return blueskyapi.NewPool(c)
}

func postEvent(t *testing.T, did, rkey, text string) rawevent.Event {
	t.Helper()
	body := fmt.Sprintf(`{"did":%q,"time_us":1000,"commit":{"collection":"app.bsky.feed.post","rkey":%q,"record":{"text":%q}}}`, did, rkey, text)
	e, err := rawevent.Parse([]byte(body))
	require.NoError(t, err)
	return e
}

func TestHydrateEmptyBatch(t *testing.T) {
	hc := NewHydrationContext(10, 10)
	out, err := Hydrate(context.Background(), hc, nil, poolOf(&fakeClient{}))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHydrateOutputLengthMatchesInput(t *testing.T) {
	hc := NewHydrationContext(10, 10)
	client := &fakeClient{
		profiles: map[string]blueskyapi.Profile{"did:plc:a": json.RawMessage(`{"did":"did:plc:a","handle":"a.test"}`)},
	}
	e1 := postEvent(t, "did:plc:a", "1", "hello")
	e2 := postEvent(t, "did:plc:a", "2", "world")

	out, err := Hydrate(context.Background(), hc, []rawevent.Event{e1, e2}, poolOf(client))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/1", out[0].AtURI)
	assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/2", out[1].AtURI)
	assert.JSONEq(t, `{"did":"did:plc:a","handle":"a.test"}`, string(out[0].HydratedMetadata.User))
}

func TestHydrateSecondBatchHitsCacheNotRemote(t *testing.T) {
	hc := NewHydrationContext(10, 10)
	client := &fakeClient{
		profiles: map[string]blueskyapi.Profile{"did:plc:a": json.RawMessage(`{"did":"did:plc:a"}`)},
	}
	pool := poolOf(client)
	e := postEvent(t, "did:plc:a", "1", "hello")

	_, err := Hydrate(context.Background(), hc, []rawevent.Event{e}, pool)
	require.NoError(t, err)
	_, err = Hydrate(context.Background(), hc, []rawevent.Event{e}, pool)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&client.profileCalls), "second hydration should be served from cache")
}

func TestHydrateResolvesMentionsAndReferencedPosts(t *testing.T) {
	hc := NewHydrationContext(10, 10)
	client := &fakeClient{
		profiles: map[string]blueskyapi.Profile{
			"did:plc:author": json.RawMessage(`{"did":"did:plc:author"}`),
			"did:plc:bob":    json.RawMessage(`{"did":"did:plc:bob"}`),
		},
		posts: map[string]blueskyapi.Post{
			"at://did:plc:parent/app.bsky.feed.post/1": json.RawMessage(`{"uri":"at://did:plc:parent/app.bsky.feed.post/1"}`),
		},
	}
	body := `{
		"did": "did:plc:author",
		"time_us": 5,
		"commit": {
			"collection": "app.bsky.feed.post",
			"rkey": "x",
			"record": {
				"text": "hi @bob",
				"facets": [{"features": [{"$type": "app.bsky.richtext.facet#mention", "did": "did:plc:bob"}]}],
				"reply": {"parent": {"uri": "at://did:plc:parent/app.bsky.feed.post/1"}, "root": {"uri": "at://did:plc:parent/app.bsky.feed.post/1"}}
			}
		}
	}`
	e, err := rawevent.Parse([]byte(body))
	require.NoError(t, err)

	out, err := Hydrate(context.Background(), hc, []rawevent.Event{e}, poolOf(client))
	require.NoError(t, err)
	require.Len(t, out, 1)

	rec := out[0]
	assert.NotNil(t, rec.HydratedMetadata.User)
	require.Contains(t, rec.HydratedMetadata.Mentions, "did:plc:bob")
	assert.NotNil(t, rec.HydratedMetadata.ParentPost)
	assert.NotNil(t, rec.HydratedMetadata.ReplyPost)
	assert.Nil(t, rec.HydratedMetadata.QuotePost)
}
