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

// Package blueskyapi is the remote social API collaborator (spec §6):
// two bulk read operations, fanned out in chunks of ChunkSize, behind
// session-based authentication.
package blueskyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openimsdk/tools/errs"
	"golang.org/x/sync/errgroup"
)

// ChunkSize is the maximum number of keys per remote bulk call
// (spec §6, fixed at 25).
const ChunkSize = 25

// Profile and Post are opaque remote objects, cached and passed around
// as raw JSON (spec §9 Design Notes: a narrow Serialize boundary,
// decoding happens at the sink, not in the core).
type Profile = json.RawMessage
type Post = json.RawMessage

// Client is one authenticated handle into the Bluesky API.
type Client interface {
	GetProfiles(ctx context.Context, dids []string) (map[string]Profile, error)
	GetPosts(ctx context.Context, uris []string) (map[string]Post, error)
}

// HTTPClient is the concrete Client implementation: bearer-token auth
// over plain HTTP XRPC calls, one client bound to one PDS/AppView host.
type HTTPClient struct {
	domain string
	http   *http.Client
	token  string
}

// NewHTTPClient constructs a client bound to domain; it still needs
// Login before use.
func NewHTTPClient(domain string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{domain: domain, http: httpClient}
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
}

// Login exchanges an opaque session string for a bearer token via
// com.atproto.server.createSession, mirroring BlueskyAPI.load_sessions
// in the original implementation (one POST per client at startup).
func (c *HTTPClient) Login(ctx context.Context, sessionString string) error {
	body, err := json.Marshal(map[string]string{"session": sessionString})
	if err != nil {
		return errs.WrapMsg(err, "marshal login request")
	}
	endpoint := fmt.Sprintf("https://%s/xrpc/com.atproto.server.createSession", c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errs.WrapMsg(err, "build login request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "login request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.New(fmt.Sprintf("login failed for %s: status %d", c.domain, resp.StatusCode)).Wrap()
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return errs.WrapMsg(err, "decode login response")
	}
	c.token = out.AccessJwt
	return nil
}

// GetProfiles resolves up to len(dids) actor profiles, chunked and
// fanned out concurrently (spec §4.C phase 3, §6).
func (c *HTTPClient) GetProfiles(ctx context.Context, dids []string) (map[string]Profile, error) {
	return chunkedBulk(ctx, dids, func(ctx context.Context, sub []string) (map[string]Profile, error) {
		return c.fetchProfilesChunk(ctx, sub)
	})
}

// GetPosts resolves up to len(uris) post views, chunked and fanned out
// concurrently.
func (c *HTTPClient) GetPosts(ctx context.Context, uris []string) (map[string]Post, error) {
	return chunkedBulk(ctx, uris, func(ctx context.Context, sub []string) (map[string]Post, error) {
		return c.fetchPostsChunk(ctx, sub)
	})
}

type profilesResponse struct {
	Profiles []json.RawMessage `json:"profiles"`
}

func (c *HTTPClient) fetchProfilesChunk(ctx context.Context, dids []string) (map[string]Profile, error) {
	q := url.Values{}
	for _, d := range dids {
		q.Add("actors", d)
	}
	endpoint := fmt.Sprintf("https://%s/xrpc/app.bsky.actor.getProfiles?%s", c.domain, q.Encode())
	var resp profilesResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(resp.Profiles))
	for _, p := range resp.Profiles {
		var meta struct {
			Did string `json:"did"`
		}
		if err := json.Unmarshal(p, &meta); err != nil || meta.Did == "" {
			continue
		}
		out[meta.Did] = Profile(p)
	}
	return out, nil
}

type postsResponse struct {
	Posts []json.RawMessage `json:"posts"`
}

func (c *HTTPClient) fetchPostsChunk(ctx context.Context, uris []string) (map[string]Post, error) {
	q := url.Values{}
	for _, u := range uris {
		q.Add("uris", u)
	}
	endpoint := fmt.Sprintf("https://%s/xrpc/app.bsky.feed.getPosts?%s", c.domain, q.Encode())
	var resp postsResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Post, len(resp.Posts))
	for _, p := range resp.Posts {
		var meta struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(p, &meta); err != nil || meta.URI == "" {
			continue
		}
		out[meta.URI] = Post(p)
	}
	return out, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errs.WrapMsg(err, "build request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.New(fmt.Sprintf("%s: status %d", endpoint, resp.StatusCode)).Wrap()
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// chunkedBulk splits items into groups of at most ChunkSize, calls
// fetch on each group concurrently, and merges the per-chunk maps. An
// empty input never issues a remote call (spec §4.C phase 3).
func chunkedBulk[V any](ctx context.Context, items []string, fetch func(context.Context, []string) (map[string]V, error)) (map[string]V, error) {
	if len(items) == 0 {
		return map[string]V{}, nil
	}

	var chunks [][]string
	for i := 0; i < len(items); i += ChunkSize {
		end := i + ChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}

	results := make([]map[string]V, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			r, err := fetch(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]V)
	for _, r := range results {
		for k, v := range r {
			merged[k] = v
		}
	}
	return merged, nil
}

// domainFromSessionString splits a session string on ":::" and returns
// its last field, treated as the host the client should bind to
// (spec §4.D, §6).
func domainFromSessionString(sessionString string) string {
	parts := strings.Split(sessionString, ":::")
	return parts[len(parts)-1]
}
