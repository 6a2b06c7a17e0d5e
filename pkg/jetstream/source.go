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

// Package jetstream implements the Source collaborator (spec §6): a
// websocket subscription to a Bluesky Jetstream endpoint that yields
// decoded RawEvents and skips malformed frames.
package jetstream

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/graze-social/turbocharger/pkg/rawevent"
	"github.com/openimsdk/tools/errs"
)

// DefaultWantedCollections is the single collection this pipeline
// cares about: post creations.
const DefaultWantedCollections = "app.bsky.feed.post"

// Source subscribes to one Jetstream host over websocket.
type Source struct {
	endpoint          string
	wantedCollections string
	dialer            *websocket.Dialer
}

// New builds a Source bound to endpoint (host[:port], no scheme).
func New(endpoint string, wantedCollections string) *Source {
	if wantedCollections == "" {
		wantedCollections = DefaultWantedCollections
	}
	return &Source{
		endpoint:          endpoint,
		wantedCollections: wantedCollections,
		dialer:            websocket.DefaultDialer,
	}
}

func (s *Source) url() string {
	return fmt.Sprintf("wss://%s/subscribe?wantedCollections=%s", s.endpoint, s.wantedCollections)
}

// Events dials the Jetstream endpoint and streams decoded frames.
// events closes on a clean end-of-stream (a normal-closure close frame
// from the server) with nothing sent on errs; any other read failure
// sends one value on errs before both channels close. Malformed JSON frames are skipped, never
// surfaced as an error (spec §6 "Source interface").
func (s *Source) Events(ctx context.Context) (<-chan rawevent.Event, <-chan error) {
	events := make(chan rawevent.Event)
	errc := make(chan error, 1)
	go s.run(ctx, events, errc)
	return events, errc
}

func (s *Source) run(ctx context.Context, events chan<- rawevent.Event, errc chan<- error) {
	defer close(events)
	defer close(errc)

	conn, _, err := s.dialer.DialContext(ctx, s.url(), nil)
	if err != nil {
		errc <- errs.WrapMsg(err, "dial jetstream endpoint")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			errc <- errs.WrapMsg(err, "read jetstream frame")
			return
		}

		event, err := rawevent.Parse(message)
		if err != nil {
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
}
