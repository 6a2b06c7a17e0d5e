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

package rawevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndGet(t *testing.T) {
	e, err := Parse([]byte(`{"did":"did:plc:abc","commit":{"collection":"app.bsky.feed.post","record":{"text":"hi"}}}`))
	require.NoError(t, err)

	did, ok := e.Root().Get("did").Str()
	assert.True(t, ok)
	assert.Equal(t, "did:plc:abc", did)

	text, ok := e.Root().Get("commit").Get("record").Get("text").Str()
	assert.True(t, ok)
	assert.Equal(t, "hi", text)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestAccessorsAreTotal(t *testing.T) {
	e, err := Parse([]byte(`{"a":1,"b":"x","c":[1,2,3]}`))
	require.NoError(t, err)
	root := e.Root()

	assert.True(t, root.Get("missing").IsAbsent())
	assert.True(t, root.Get("a").Get("deeper").IsAbsent())
	assert.True(t, root.Get("b").Index(0).IsAbsent())
	assert.True(t, root.Index(0).IsAbsent())

	_, ok := root.Get("missing").Str()
	assert.False(t, ok)
	assert.Equal(t, "fallback", root.Get("missing").StrOr("fallback"))

	_, ok = root.Get("b").Int64()
	assert.False(t, ok)

	n, ok := root.Get("a").Int64()
	assert.True(t, ok)
	assert.EqualValues(t, 1, n)
}

func TestArrayAccess(t *testing.T) {
	e, err := Parse([]byte(`{"items":[{"k":"v1"},{"k":"v2"}]}`))
	require.NoError(t, err)

	arr, ok := e.Root().Get("items").Array()
	require.True(t, ok)
	require.Len(t, arr, 2)

	v, ok := arr[1].Get("k").Str()
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	_, ok = e.Root().Get("items").Get("k").Str()
	assert.False(t, ok)
}

func TestRawReturnsDecodedMap(t *testing.T) {
	e, err := Parse([]byte(`{"did":"x"}`))
	require.NoError(t, err)
	raw := e.Raw()
	assert.Equal(t, "x", raw["did"])
}
