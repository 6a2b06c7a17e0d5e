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

import "github.com/graze-social/turbocharger/pkg/rawevent"

// mentionFeatureType and quoteEmbedType are the two $type discriminants
// the extractor recognizes, matching the original Bluesky lexicon
// strings byte for byte.
const (
	mentionFeatureType = "app.bsky.richtext.facet#mention"
	quoteEmbedType     = "app.bsky.embed.record"
)

// ExtractedRefs is everything phase 1 of hydration derives from a
// single raw event: the posting DID, the mention DIDs, and the three
// optional post URIs (spec §4.B).
type ExtractedRefs struct {
	DID       string
	Mentions  map[string]struct{}
	ParentURI string
	RootURI   string
	QuoteURI  string
}

// Extract derives ExtractedRefs from one event. Missing, null, or
// wrong-typed intermediate nodes are treated as absent; extraction
// never fails, it simply yields whatever references are present.
func Extract(e rawevent.Event) ExtractedRefs {
	root := e.Root()
	refs := ExtractedRefs{
		DID:      root.Get("did").StrOr(""),
		Mentions: map[string]struct{}{},
	}

	record := root.Get("commit").Get("record")

	if facets, ok := record.Get("facets").Array(); ok {
		for _, facet := range facets {
			features, ok := facet.Get("features").Array()
			if !ok {
				continue
			}
			for _, feature := range features {
				t, _ := feature.Get("$type").Str()
				if t != mentionFeatureType {
					continue
				}
				if did, ok := feature.Get("did").Str(); ok && did != "" {
					refs.Mentions[did] = struct{}{}
				}
			}
		}
	}

	reply := record.Get("reply")
	refs.ParentURI = reply.Get("parent").Get("uri").StrOr("")
	refs.RootURI = reply.Get("root").Get("uri").StrOr("")

	embed := record.Get("embed")
	if t, ok := embed.Get("$type").Str(); ok && t == quoteEmbedType {
		refs.QuoteURI = embed.Get("record").Get("uri").StrOr("")
	}

	return refs
}
