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

package blueskyapi

import (
	"context"
	"math/rand"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
)

// DefaultBandwidth is the default maximum number of clients the pool
// will load (spec §6 clientBandwidth, §4.D C=10).
const DefaultBandwidth = 10

// Pool holds authenticated clients loaded once at startup and selects
// one uniformly at random per batch (spec §4.D). It is read-only after
// LoadPool returns.
type Pool struct {
	clients []Client
}

// LoadPool logs in up to bandwidth clients from sessionStrings. For
// each string: split on ":::", the last field is the host, construct a
// client bound to it, and log in. Failures are discarded and logged;
// once bandwidth clients are loaded, remaining inputs are ignored. An
// empty resulting pool is fatal (spec §7.4).
func LoadPool(ctx context.Context, sessionStrings []string, bandwidth int) (*Pool, error) {
	if bandwidth <= 0 {
		bandwidth = DefaultBandwidth
	}

	var clients []Client
	for _, ss := range sessionStrings {
		if len(clients) >= bandwidth {
			break
		}
		domain := domainFromSessionString(ss)
		c := NewHTTPClient(domain, nil)
		if err := c.Login(ctx, ss); err != nil {
			log.ZError(ctx, "bluesky client login failed, discarding session string", err, "domain", domain)
			continue
		}
		clients = append(clients, c)
	}

	if len(clients) == 0 {
		return nil, errs.New("bluesky client pool is empty after loading sessions").Wrap()
	}

	return &Pool{clients: clients}, nil
}

// NewPool builds a Pool directly from already-authenticated clients,
// bypassing LoadPool's HTTP login step. Exported for tests and for
// callers that construct clients some other way.
func NewPool(clients ...Client) *Pool {
	return &Pool{clients: clients}
}

// Pick selects one client uniformly at random for a batch (spec §4.D:
// "not rotated or adjusted after initial load").
func (p *Pool) Pick() Client {
	return p.clients[rand.Intn(len(p.clients))]
}

// Len reports the number of loaded clients.
func (p *Pool) Len() int {
	return len(p.clients)
}
