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

// Package credsource implements the Credential source collaborator
// (spec §6): a single startup-time HTTP fetch of opaque session
// strings from the Graze control API.
package credsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openimsdk/tools/errs"
)

// Client fetches session strings from the Graze turbo-tokens endpoint.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// New builds a credential source client bound to baseURL, authenticated
// with the given credential secret.
func New(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type credential struct {
	SessionString string `json:"session_string"`
}

// FetchSessionStrings returns the list of opaque session strings the
// client pool should load (spec §6 "Credential source", called once
// at startup).
func (c *Client) FetchSessionStrings(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/app/api/v1/turbo-tokens/credentials?credential_secret=%s", c.baseURL, url.QueryEscape(c.secret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.WrapMsg(err, "build credentials request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.WrapMsg(err, "fetch credentials")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(fmt.Sprintf("fetch credentials: status %d", resp.StatusCode)).Wrap()
	}

	var creds []credential
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, errs.WrapMsg(err, "decode credentials response")
	}

	out := make([]string, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.SessionString)
	}
	return out, nil
}
