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

package jetstream

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	return srv
}

func TestEventsDecodesValidFramesAndSkipsMalformedOnes(t *testing.T) {
	srv := newTestServer(t, []string{
		`{"did":"did:plc:a"}`,
		`not json at all`,
		`{"did":"did:plc:b"}`,
	})
	defer srv.Close()

	endpoint := strings.TrimPrefix(srv.URL, "https://")
	src := New(endpoint, "")
	src.dialer = &websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, errc := src.Events(ctx)

	var got []string
	for e := range events {
		did, _ := e.Root().Get("did").Str()
		got = append(got, did)
	}
	select {
	case err := <-errc:
		assert.NoError(t, err)
	default:
	}

	assert.Equal(t, []string{"did:plc:a", "did:plc:b"}, got)
}

func TestNewDefaultsWantedCollections(t *testing.T) {
	src := New("example.invalid", "")
	assert.Equal(t, DefaultWantedCollections, src.wantedCollections)
}

func TestURLBuildsWssScheme(t *testing.T) {
	src := New("jetstream.example.com", "app.bsky.feed.post")
	assert.Equal(t, "wss://jetstream.example.com/subscribe?wantedCollections=app.bsky.feed.post", src.url())
}
